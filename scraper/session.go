package scraper

import (
	"context"
	"time"
)

// Browser opens isolated sessions. Each lookup owns its session exclusively.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is the narrow browser capability the spot finder drives:
// one browser context with one page.
type Session interface {
	// Navigate loads url and waits for the load event
	Navigate(ctx context.Context, url string) error

	// Eval runs a JS function expression with args and decodes its JSON result into out.
	// out may be nil when the result is not needed.
	Eval(ctx context.Context, js string, out interface{}, args ...interface{}) error

	// Click clicks the first element matching selector, optionally filtered by a JS regex
	// on its text, waiting at most timeout for it to become visible.
	Click(ctx context.Context, selector, textPattern string, timeout time.Duration) error

	// OnJSONResponse registers handler for every JSON response body the page receives.
	// The returned stop function unregisters it and waits for in-flight calls to finish.
	OnJSONResponse(handler func(url string, body []byte)) (stop func())

	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)

	// Close releases the page and its browser context. Calls after the first are no-ops.
	Close() error
}
