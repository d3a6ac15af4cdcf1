package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// fakeSession is a scriptable Session. Eval results are produced by evalFn and round-tripped
// through JSON the same way the rod session decodes them.
type fakeSession struct {
	mu sync.Mutex

	evalFn      func(js string, args []interface{}) (interface{}, error)
	clickFn     func(selector, text string) error
	navigateErr error
	// payloads are delivered to JSON listeners during Navigate
	payloads map[string]string

	handlers   []func(url string, body []byte)
	navigated  []string
	evalCounts map[string]int
	clicks     []string
	closeCount int
	stopCount  int
}

func newFakeSession(evalFn func(js string, args []interface{}) (interface{}, error)) *fakeSession {
	return &fakeSession{evalFn: evalFn, evalCounts: make(map[string]int)}
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.navigated = append(f.navigated, url)
	handlers := append([]func(string, []byte){}, f.handlers...)
	f.mu.Unlock()

	if f.navigateErr != nil {
		return f.navigateErr
	}
	for u, body := range f.payloads {
		for _, h := range handlers {
			h(u, []byte(body))
		}
	}
	return nil
}

func (f *fakeSession) Eval(_ context.Context, js string, out interface{}, args ...interface{}) error {
	f.mu.Lock()
	f.evalCounts[js]++
	f.mu.Unlock()

	if f.evalFn == nil {
		return errors.New("no eval script")
	}
	v, err := f.evalFn(js, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeSession) Click(_ context.Context, selector, text string, _ time.Duration) error {
	if f.clickFn == nil {
		return errors.New("element not found")
	}
	if err := f.clickFn(selector, text); err != nil {
		return err
	}
	f.mu.Lock()
	f.clicks = append(f.clicks, selector)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) OnJSONResponse(handler func(url string, body []byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {
		f.mu.Lock()
		f.stopCount++
		f.mu.Unlock()
	}
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (f *fakeSession) HTML(context.Context) (string, error) {
	return "<html><body>listing</body></html>", nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

func (f *fakeSession) evals(js string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalCounts[js]
}

type fakeBrowser struct {
	session *fakeSession
	err     error
	opened  int
}

func (b *fakeBrowser) NewSession(context.Context) (Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.opened++
	return b.session, nil
}

// fakePage answers the scripts the pipeline evaluates with a static listing
type fakePage struct {
	strict  []rawTile
	relaxed []rawTile
	links   int
	height  float64
	text    string
	title   string
	evalErr map[string]error
	// link-count polls that still see an empty grid
	hydrateAfter int
	linkPolls    int
}

func (p *fakePage) visibleLinks() int {
	if p.linkPolls < p.hydrateAfter {
		return 0
	}
	return p.links
}

func (p *fakePage) eval(js string, _ []interface{}) (interface{}, error) {
	if err, ok := p.evalErr[js]; ok {
		return nil, err
	}
	switch js {
	case strictTilesJS:
		return p.strict, nil
	case relaxedTilesJS:
		return p.relaxed, nil
	case pdpLinkCountJS:
		p.linkPolls++
		return p.visibleLinks(), nil
	case documentHeightJS, scrollToBottomJS:
		return p.height, nil
	case pageSnapshotJS:
		return pageSnapshot{Title: p.title, Text: p.text, Links: p.visibleLinks()}, nil
	}
	return nil, errors.New("unexpected script")
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func tile(title string, x, y float64) rawTile {
	return rawTile{
		Title:  title,
		Link:   "https://www.takealot.com/" + Slug(title) + "/PLID1",
		X:      x,
		Y:      y,
		Width:  280,
		Height: 380,
	}
}
