package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"spotfinder/config"
	"spotfinder/models"

	"go.uber.org/zap"
)

// FindOptions tunes a single lookup
type FindOptions struct {
	// SaveDebug writes a screenshot and the page markup after extraction
	SaveDebug bool
}

// SpotFinder locates a product's position in a category's search listing
type SpotFinder struct {
	browser    Browser
	cfg        config.ScraperConfig
	matcher    *Matcher
	stabilizer *Stabilizer
	detector   *BotDetector
	debug      *DebugWriter
	logger     *zap.Logger

	// newStrategies builds a fresh strategy chain per lookup so capture state never leaks
	// between lookups
	newStrategies func() []ExtractionStrategy
}

// NewSpotFinder wires the lookup pipeline over browser
func NewSpotFinder(browser Browser, cfg config.ScraperConfig, logger *zap.Logger) *SpotFinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &SpotFinder{
		browser:    browser,
		cfg:        cfg,
		matcher:    NewMatcher(cfg.FuzzyThreshold),
		stabilizer: NewStabilizer(cfg, logger),
		detector:   NewBotDetector(),
		debug:      NewDebugWriter(cfg.DebugDir, logger),
		logger:     logger,
	}
	f.newStrategies = f.defaultStrategies
	return f
}

func (f *SpotFinder) defaultStrategies() []ExtractionStrategy {
	names := f.cfg.Strategies
	if len(names) == 0 {
		names = []string{config.StrategyStrict, config.StrategyRelaxed}
	}

	strategies := make([]ExtractionStrategy, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case config.StrategyNetwork:
			strategies = append(strategies, NewNetworkStrategy(f.cfg.NetworkSettle, f.logger))
		case config.StrategyStrict:
			strategies = append(strategies, NewStrictStrategy(f.cfg.MinTileSize, f.logger))
		case config.StrategyRelaxed:
			strategies = append(strategies, NewRelaxedStrategy(f.cfg.MinTileSize, f.logger))
		default:
			f.logger.Warn("Ignoring unknown extraction strategy", zap.String("strategy", name))
		}
	}
	return strategies
}

// SearchURL returns the listing URL searched for category
func (f *SpotFinder) SearchURL(category string) string {
	return f.cfg.SearchURL(url.QueryEscape(strings.TrimSpace(category)))
}

// FindSpot loads the listing for category and returns product's 1-based rank in it.
//
// A product that is not listed is a normal result with a nil Rank. Only a failed page load
// (*NavigationError), an unusable browser or a cancelled ctx produce an error. The browser
// session is closed on every path.
func (f *SpotFinder) FindSpot(ctx context.Context, category, product string, opts FindOptions) (*models.SpotResult, error) {
	start := time.Now()
	category = strings.TrimSpace(category)
	product = strings.TrimSpace(product)
	searchURL := f.SearchURL(category)
	strategies := f.newStrategies()

	log := f.logger.With(zap.String("category", category), zap.String("product", product))

	sess, err := f.browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("Closing browser session failed", zap.Error(cerr))
		}
	}()

	for _, s := range strategies {
		if a, ok := s.(Attacher); ok {
			a.Attach(sess)
			defer a.Detach()
		}
	}

	log.Info("🔍 Loading search listing", zap.String("url", searchURL))
	if err := sess.Navigate(ctx, searchURL); err != nil {
		return nil, newNavigationError(searchURL, err)
	}

	if err := f.stabilizer.Stabilize(ctx, sess); err != nil {
		return nil, fmt.Errorf("stabilize listing: %w", err)
	}

	// checked after the link wait so a grid that hydrates late still counts
	blocked, reason, err := f.detector.Check(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("inspect landing page: %w", err)
	}
	if blocked {
		log.Warn("🚫 Bot wall detected", zap.String("reason", reason))
		return nil, &NavigationError{URL: searchURL, Reason: NavBlocked, Err: errors.New(reason)}
	}

	records, strategy, err := f.extract(ctx, sess, strategies)
	if err != nil {
		return nil, err
	}

	grid := f.cfg.DedupeGrid
	if strategy != nil && strategy.Tier() == models.TierNetwork {
		// ordinal positions are exact, only identical entries collapse
		grid = 1
	}
	records = DedupeRecords(records, grid)
	AssignRanks(records)

	titles := make([]string, len(records))
	for i, rec := range records {
		titles[i] = rec.Title
	}
	match := f.matcher.Match(product, titles)

	result := &models.SpotResult{
		SearchCategory: category,
		ProductName:    product,
		SearchURL:      searchURL,
		Rank:           match.Rank,
		MatchedTitle:   match.MatchedTitle,
		Match:          match,
		Evidence:       records,
		TotalSeen:      len(records),
	}
	if strategy != nil {
		result.Strategy = strategy.Name()
		result.UsedFallback = strategy.Tier() == models.TierRelaxed
	}
	if f.cfg.MaxCandidates > 0 && len(result.Evidence) > f.cfg.MaxCandidates {
		result.Evidence = result.Evidence[:f.cfg.MaxCandidates]
	}

	if opts.SaveDebug {
		paths, err := f.debug.Save(ctx, sess, category+" "+product)
		if err != nil {
			log.Warn("Saving debug artifacts failed", zap.Error(err))
		}
		result.DebugArtifacts = paths
	}

	result.Duration = time.Since(start)
	if result.Found() {
		log.Info("✅ Product found",
			zap.Int("rank", *result.Rank),
			zap.String("tier", string(match.Tier)),
			zap.Float64("confidence", match.Confidence),
			zap.Int("total_seen", result.TotalSeen),
			zap.Bool("used_fallback", result.UsedFallback))
	} else {
		log.Info("❌ Product not found",
			zap.Int("total_seen", result.TotalSeen),
			zap.Float64("best_confidence", match.Confidence),
			zap.Bool("used_fallback", result.UsedFallback))
	}
	return result, nil
}

// extract runs strategies in order and stops at the first that yields records. The returned
// strategy is the one that produced them, or the last one tried when all came back empty.
func (f *SpotFinder) extract(ctx context.Context, sess Session, strategies []ExtractionStrategy) ([]models.ProductRecord, ExtractionStrategy, error) {
	var last ExtractionStrategy
	for _, s := range strategies {
		last = s
		records, err := s.Extract(ctx, sess)
		if err != nil {
			return nil, s, err
		}
		if len(records) > 0 {
			f.logger.Debug("Extraction strategy succeeded",
				zap.String("strategy", s.Name()),
				zap.Int("records", len(records)))
			return records, s, nil
		}
		f.logger.Debug("Extraction strategy found nothing", zap.String("strategy", s.Name()))
	}
	return nil, last, nil
}
