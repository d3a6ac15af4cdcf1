package scraper

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"spotfinder/models"

	"go.uber.org/zap"
)

// ExtractionStrategy turns a loaded results page into listing records.
// Strategies never assign ranks.
type ExtractionStrategy interface {
	Name() string
	Tier() models.SourceTier
	Extract(ctx context.Context, s Session) ([]models.ProductRecord, error)
}

// Attacher is implemented by strategies that need to observe the session before navigation.
// Detach releases whatever Attach registered and is safe to call more than once.
type Attacher interface {
	Attach(s Session)
	Detach()
}

// Patterns shared by the DOM scripts and the network payload walker. They are handed to the
// page as regex sources so both sides agree on what a product detail link looks like.
const (
	pdpLinkPattern    = `/[^/?#]+/PLID\d+|/p/[^/?#]+`
	nonPDPLinkPattern = `/brand/|/all\?|[?&]_sb=`
	actionTextPattern = `add\s*to\s*(cart|basket|trolley)|shop\s*all\s*options`

	cardSelector = `article, li, [data-ref*="product"], [data-ref*="tile"], ` +
		`[class*="product"], [class*="tile"], [class*="card"]`

	// DefaultMinTileSize is the minimum rendered width and height of a plausible product tile
	DefaultMinTileSize = 120.0
)

var (
	pdpLinkRe    = regexp.MustCompile(`(?i)` + pdpLinkPattern)
	nonPDPLinkRe = regexp.MustCompile(`(?i)` + nonPDPLinkPattern)
)

// isPDPLink reports whether href points at a product detail page
func isPDPLink(href string) bool {
	return href != "" && pdpLinkRe.MatchString(href) && !nonPDPLinkRe.MatchString(href)
}

// tileHelpersJS is shared by the strict and relaxed scripts. It expects PDP, NOT_PDP and
// minTile to be in scope.
const tileHelpersJS = `
  const scope = document.querySelector('main') || document.querySelector('[role="main"]') ||
    document.querySelector('#root') || document.body;
  if (!scope) return [];
  const sx = window.scrollX || window.pageXOffset || 0;
  const sy = window.scrollY || window.pageYOffset || 0;

  const isPDP = (a) => {
    const href = a.getAttribute('href') || '';
    return PDP.test(href) && !NOT_PDP.test(href);
  };
  const pdpLinkIn = (el) => {
    if (el.matches && el.matches('a[href]') && isPDP(el)) return el;
    for (const a of el.querySelectorAll('a[href]')) {
      if (isPDP(a)) return a;
    }
    return null;
  };
  const clean = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const titleOf = (el, link) => {
    const h = el.querySelector('h1, h2, h3, h4, [class*="title"], [data-ref*="title"]');
    let t = h ? clean(h.innerText || h.textContent) : '';
    if (!t && link) {
      t = clean(link.innerText || link.textContent) ||
        clean(link.getAttribute('aria-label')) || clean(link.getAttribute('title'));
    }
    if (!t) t = clean(el.getAttribute('title'));
    return t;
  };
  const tileOf = (el, link, title) => {
    const r = el.getBoundingClientRect();
    return {
      title: title,
      link: link ? link.href : '',
      x: r.left + sx,
      y: r.top + sy,
      width: r.width,
      height: r.height,
    };
  };
  const bigEnough = (el) => {
    const r = el.getBoundingClientRect();
    return r.width > minTile && r.height > minTile;
  };
`

// strictTilesJS accepts cards that carry a purchase action and a PDP link.
// When cards nest, the innermost accepted card wins.
const strictTilesJS = `(pdpSrc, notPdpSrc, actionSrc, cardSel, minTile) => {
  const PDP = new RegExp(pdpSrc, 'i');
  const NOT_PDP = new RegExp(notPdpSrc, 'i');
  const ACTION = new RegExp(actionSrc, 'i');
` + tileHelpersJS + `
  const hasAction = (el) => {
    if (el.querySelector('button, [role="button"], [data-ref*="add"], [class*="add-to"], [aria-label*="add" i]')) {
      return true;
    }
    return ACTION.test(el.innerText || '');
  };

  const accepted = [];
  for (const el of scope.querySelectorAll(cardSel)) {
    try {
      if (!bigEnough(el) || !hasAction(el)) continue;
      const link = pdpLinkIn(el);
      if (!link) continue;
      const title = titleOf(el, link);
      if (!title) continue;
      accepted.push({ el: el, tile: tileOf(el, link, title) });
    } catch (e) {}
  }
  return accepted
    .filter((a) => !accepted.some((b) => b !== a && a.el.contains(b.el)))
    .map((a) => a.tile);
}`

// relaxedTilesJS starts from every PDP link and measures its nearest card-like ancestor
const relaxedTilesJS = `(pdpSrc, notPdpSrc, cardSel, minTile) => {
  const PDP = new RegExp(pdpSrc, 'i');
  const NOT_PDP = new RegExp(notPdpSrc, 'i');
` + tileHelpersJS + `
  const out = [];
  for (const a of scope.querySelectorAll('a[href]')) {
    try {
      if (!isPDP(a)) continue;
      const card = a.closest(cardSel) || a;
      if (!bigEnough(card)) continue;
      const title = titleOf(card, a);
      if (!title) continue;
      out.push(tileOf(card, a, title));
    } catch (e) {}
  }
  return out;
}`

// pdpLinkCountJS counts PDP links currently rendered anywhere in the document
const pdpLinkCountJS = `(pdpSrc, notPdpSrc) => {
  const PDP = new RegExp(pdpSrc, 'i');
  const NOT_PDP = new RegExp(notPdpSrc, 'i');
  let n = 0;
  for (const a of document.querySelectorAll('a[href]')) {
    const href = a.getAttribute('href') || '';
    if (PDP.test(href) && !NOT_PDP.test(href)) n++;
  }
  return n;
}`

// rawTile is the JSON shape returned by the DOM scripts
type rawTile struct {
	Title  string  `json:"title"`
	Link   string  `json:"link"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// StrictStrategy accepts only tiles that show a purchase action
type StrictStrategy struct {
	MinTileSize float64
	logger      *zap.Logger
}

// NewStrictStrategy creates the strict DOM strategy
func NewStrictStrategy(minTileSize float64, logger *zap.Logger) *StrictStrategy {
	if minTileSize <= 0 {
		minTileSize = DefaultMinTileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrictStrategy{MinTileSize: minTileSize, logger: logger}
}

func (s *StrictStrategy) Name() string { return string(models.TierStrict) }

func (s *StrictStrategy) Tier() models.SourceTier { return models.TierStrict }

// Extract evaluates the strict tile script and returns records in reading order
func (s *StrictStrategy) Extract(ctx context.Context, sess Session) ([]models.ProductRecord, error) {
	var tiles []rawTile
	err := sess.Eval(ctx, strictTilesJS, &tiles,
		pdpLinkPattern, nonPDPLinkPattern, actionTextPattern, cardSelector, s.MinTileSize)
	if err != nil {
		return nil, fmt.Errorf("strict extraction: %w", err)
	}
	records := tilesToRecords(tiles, models.TierStrict, s.logger)
	s.logger.Debug("Strict extraction finished",
		zap.Int("tiles", len(tiles)),
		zap.Int("records", len(records)))
	return records, nil
}

// RelaxedStrategy accepts any plausibly sized tile around a PDP link
type RelaxedStrategy struct {
	MinTileSize float64
	logger      *zap.Logger
}

// NewRelaxedStrategy creates the relaxed DOM strategy
func NewRelaxedStrategy(minTileSize float64, logger *zap.Logger) *RelaxedStrategy {
	if minTileSize <= 0 {
		minTileSize = DefaultMinTileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelaxedStrategy{MinTileSize: minTileSize, logger: logger}
}

func (s *RelaxedStrategy) Name() string { return string(models.TierRelaxed) }

func (s *RelaxedStrategy) Tier() models.SourceTier { return models.TierRelaxed }

// Extract evaluates the relaxed tile script and returns records in reading order
func (s *RelaxedStrategy) Extract(ctx context.Context, sess Session) ([]models.ProductRecord, error) {
	var tiles []rawTile
	err := sess.Eval(ctx, relaxedTilesJS, &tiles,
		pdpLinkPattern, nonPDPLinkPattern, cardSelector, s.MinTileSize)
	if err != nil {
		return nil, fmt.Errorf("relaxed extraction: %w", err)
	}
	records := tilesToRecords(tiles, models.TierRelaxed, s.logger)
	s.logger.Debug("Relaxed extraction finished",
		zap.Int("tiles", len(tiles)),
		zap.Int("records", len(records)))
	return records, nil
}

// tilesToRecords drops untitled tiles and orders the rest top-to-bottom, left-to-right.
// y is compared at whole-pixel precision so subpixel layout noise inside a row does not
// reorder it.
func tilesToRecords(tiles []rawTile, tier models.SourceTier, logger *zap.Logger) []models.ProductRecord {
	records := make([]models.ProductRecord, 0, len(tiles))
	for _, t := range tiles {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			logger.Debug("Skipping tile without title", zap.String("link", t.Link))
			continue
		}
		records = append(records, models.ProductRecord{
			Title:      title,
			Position:   models.Point{X: t.X, Y: t.Y},
			Size:       models.Size{Width: t.Width, Height: t.Height},
			Link:       t.Link,
			SourceTier: tier,
		})
	}
	SortReadingOrder(records)
	return records
}

// SortReadingOrder sorts records by (y, x) ascending, keeping the input order for ties
func SortReadingOrder(records []models.ProductRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		yi, yj := math.Round(records[i].Position.Y), math.Round(records[j].Position.Y)
		if yi != yj {
			return yi < yj
		}
		return records[i].Position.X < records[j].Position.X
	})
}

// countPDPLinks returns how many PDP links the page currently renders
func countPDPLinks(ctx context.Context, s Session) (int, error) {
	var n int
	if err := s.Eval(ctx, pdpLinkCountJS, &n, pdpLinkPattern, nonPDPLinkPattern); err != nil {
		return 0, err
	}
	return n, nil
}
