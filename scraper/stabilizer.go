package scraper

import (
	"context"
	"time"

	"spotfinder/config"

	"go.uber.org/zap"
)

// Attempt is one best-effort click: the first visible element matching Selector
// (and Text, a JS regex literal, when set).
type Attempt struct {
	Name     string
	Selector string
	Text     string
}

// PopupAttempts dismiss cookie banners, newsletter prompts and modals
var PopupAttempts = []Attempt{
	{Name: "cookie-accept", Selector: "button, [role=\"button\"]", Text: `/^\s*(accept( all)?( cookies)?|got it|allow all|i agree|agree)\s*$/i`},
	{Name: "cookie-banner-ref", Selector: "[data-ref*=\"cookie\"] button, [class*=\"cookie\"] button"},
	{Name: "modal-dismiss", Selector: "button, a", Text: `/^\s*(no,? thanks|not now|maybe later|close)\s*$/i`},
	{Name: "modal-close", Selector: "[class*=\"modal\"] [class*=\"close\"], [role=\"dialog\"] button[aria-label*=\"close\" i]"},
}

// ProductsTabAttempts bring the product results tab into view
var ProductsTabAttempts = []Attempt{
	{Name: "products-tab-role", Selector: "[role=\"tab\"]", Text: `/^\s*products\b/i`},
	{Name: "products-tab-ref", Selector: "[data-ref*=\"products-tab\"], [data-ref*=\"product-tab\"]"},
	{Name: "products-link", Selector: "a, button", Text: `/^\s*products\s*(\(\d[\d,]*\))?\s*$/i`},
}

const (
	documentHeightJS = `() => Math.max(
  document.body ? document.body.scrollHeight : 0,
  document.documentElement ? document.documentElement.scrollHeight : 0)`

	scrollToBottomJS = `() => {
  const h = Math.max(
    document.body ? document.body.scrollHeight : 0,
    document.documentElement ? document.documentElement.scrollHeight : 0);
  window.scrollTo(0, h);
  return h;
}`

	// consecutive non-growing heights that end the scroll loop
	scrollStallLimit = 2
)

// Stabilizer drives a results page until the listing is fully rendered
type Stabilizer struct {
	cfg    config.ScraperConfig
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewStabilizer creates a stabilizer with the given tuning
func NewStabilizer(cfg config.ScraperConfig, logger *zap.Logger) *Stabilizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stabilizer{cfg: cfg, sleep: sleepCtx, logger: logger}
}

// Stabilize settles the page, clears popups, forces the products tab, waits for the first
// links and scrolls until the listing stops growing. Only cancellation and scroll
// evaluation failures are returned.
func (st *Stabilizer) Stabilize(ctx context.Context, s Session) error {
	if err := st.sleep(ctx, st.cfg.InitialSettle); err != nil {
		return err
	}

	st.DismissPopups(ctx, s)
	if st.cfg.ForceProductsTab && st.ForceProductsTab(ctx, s) {
		// the tab switch re-renders the grid
		st.DismissPopups(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if st.cfg.MinLinks > 0 {
		if _, err := st.WaitForLinks(ctx, s, st.cfg.MinLinks, st.cfg.LinkWait); err != nil {
			return err
		}
	}

	iterations, err := st.ScrollToEnd(ctx, s)
	if err != nil {
		return err
	}
	st.logger.Debug("Page stabilized", zap.Int("scroll_iterations", iterations))
	return nil
}

// DismissPopups runs every popup attempt and reports whether anything was clicked
func (st *Stabilizer) DismissPopups(ctx context.Context, s Session) bool {
	clicked := false
	for _, a := range PopupAttempts {
		if st.try(ctx, s, a) {
			clicked = true
		}
	}
	return clicked
}

// ForceProductsTab clicks the first products tab control found
func (st *Stabilizer) ForceProductsTab(ctx context.Context, s Session) bool {
	for _, a := range ProductsTabAttempts {
		if st.try(ctx, s, a) {
			return true
		}
	}
	return false
}

func (st *Stabilizer) try(ctx context.Context, s Session, a Attempt) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := s.Click(ctx, a.Selector, a.Text, st.cfg.PopupTimeout); err != nil {
		st.logger.Debug("Attempt skipped", zap.String("attempt", a.Name), zap.Error(err))
		return false
	}
	st.logger.Debug("Attempt clicked", zap.String("attempt", a.Name))
	return true
}

// ScrollToEnd scrolls to the bottom until the document height stops growing for two
// consecutive rounds or the iteration cap is hit. It returns the rounds performed.
func (st *Stabilizer) ScrollToEnd(ctx context.Context, s Session) (int, error) {
	limit := st.cfg.MaxScrollIterations
	if limit < 1 {
		limit = config.DefaultScraperConfig().MaxScrollIterations
	}

	var prev float64
	if err := s.Eval(ctx, documentHeightJS, &prev); err != nil {
		return 0, err
	}

	stalls, iterations := 0, 0
	for iterations < limit {
		iterations++
		if err := s.Eval(ctx, scrollToBottomJS, nil); err != nil {
			return iterations, err
		}
		if err := st.sleep(ctx, st.cfg.ScrollSettle); err != nil {
			return iterations, err
		}

		var height float64
		if err := s.Eval(ctx, documentHeightJS, &height); err != nil {
			return iterations, err
		}
		if height <= prev {
			stalls++
			if stalls >= scrollStallLimit {
				break
			}
		} else {
			stalls = 0
			prev = height
		}
	}
	return iterations, nil
}

// WaitForLinks polls until at least minLinks PDP links are rendered. Running out of time is not
// an error; the result says whether the count was reached.
func (st *Stabilizer) WaitForLinks(ctx context.Context, s Session, minLinks int, timeout time.Duration) (bool, error) {
	poll := st.cfg.LinkPollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	polls := int(timeout/poll) + 1

	for i := 0; i < polls; i++ {
		n, err := countPDPLinks(ctx, s)
		if err != nil {
			st.logger.Debug("Link count failed", zap.Error(err))
		} else if n >= minLinks {
			return true, nil
		}
		if i == polls-1 {
			break
		}
		if err := st.sleep(ctx, poll); err != nil {
			return false, err
		}
	}
	st.logger.Debug("Timed out waiting for product links", zap.Int("min", minLinks), zap.Duration("timeout", timeout))
	return false, nil
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
