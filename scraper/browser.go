package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"spotfinder/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

const systemChromium = "/usr/bin/chromium-browser"

// RodBrowser is a launched Chromium shared by all lookups. Every session gets its own
// incognito context.
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      config.BrowserConfig
	logger   *zap.Logger
}

// NewRodBrowser launches Chromium and connects to it
func NewRodBrowser(cfg config.BrowserConfig, logger *zap.Logger) (*RodBrowser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Leakless(false)

	switch {
	case cfg.Bin != "":
		l = l.Bin(cfg.Bin)
		logger.Info("Using configured browser binary", zap.String("bin", cfg.Bin))
	default:
		// system Chromium in Docker, auto-detected otherwise
		if _, err := os.Stat(systemChromium); err == nil {
			l = l.Bin(systemChromium)
			logger.Info("Using system Chromium", zap.String("bin", systemChromium))
		} else if path, ok := launcher.LookPath(); ok {
			l = l.Bin(path)
			logger.Info("Using auto-detected Chromium", zap.String("bin", path))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("🌐 Browser started", zap.String("control_url", controlURL))

	return &RodBrowser{browser: browser, launcher: l, cfg: cfg, logger: logger}, nil
}

// NewSession opens an incognito context with one configured page
func (b *RodBrowser) NewSession(ctx context.Context) (Session, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	var page *rod.Page
	if b.cfg.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	// detach the page from the creation ctx, calls pass their own
	page = page.Context(context.Background())

	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             b.cfg.ViewportWidth,
			Height:            b.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			b.logger.Warn("Setting viewport failed", zap.Error(err))
		}
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			b.logger.Warn("Setting user agent failed", zap.Error(err))
		}
	}

	return &rodSession{
		page:       page,
		incognito:  incognito,
		navTimeout: b.cfg.NavTimeout,
		logger:     b.logger,
	}, nil
}

// Close shuts the browser down
func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Cleanup()
	return err
}

type rodSession struct {
	page       *rod.Page
	incognito  *rod.Browser
	navTimeout time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	closed    bool
	stops     []func()
	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	p := s.page.Context(ctx)
	if s.navTimeout > 0 {
		p = p.Timeout(s.navTimeout)
		defer p.CancelTimeout()
	}
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Eval(ctx context.Context, js string, out interface{}, args ...interface{}) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	if out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("read script result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

func (s *rodSession) Click(ctx context.Context, selector, textPattern string, timeout time.Duration) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	p := s.page.Context(ctx).Timeout(timeout)
	defer p.CancelTimeout()

	var el *rod.Element
	var err error
	if textPattern != "" {
		el, err = p.ElementR(selector, textPattern)
	} else {
		el, err = p.Element(selector)
	}
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// OnJSONResponse enables the network domain and feeds every finished JSON response body
// to handler from a background goroutine
func (s *rodSession) OnJSONResponse(handler func(url string, body []byte)) func() {
	if s.isClosed() {
		return func() {}
	}
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		s.logger.Warn("Enabling network capture failed", zap.Error(err))
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	pending := make(map[proto.NetworkRequestID]string)

	wait := s.page.Context(ctx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil && strings.Contains(strings.ToLower(e.Response.MIMEType), "json") {
				pending[e.RequestID] = e.Response.URL
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			url, ok := pending[e.RequestID]
			if !ok {
				return
			}
			delete(pending, e.RequestID)

			res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(s.page)
			if err != nil {
				s.logger.Debug("Reading response body failed", zap.String("url", url), zap.Error(err))
				return
			}
			body := []byte(res.Body)
			if res.Base64Encoded {
				if body, err = base64.StdEncoding.DecodeString(res.Body); err != nil {
					return
				}
			}
			handler(url, body)
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}

	s.mu.Lock()
	s.stops = append(s.stops, stop)
	s.mu.Unlock()
	return stop
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	return s.page.Context(ctx).Screenshot(true, nil)
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrSessionClosed
	}
	return s.page.Context(ctx).HTML()
}

// Close stops any response listeners still running, then closes the page and its incognito context
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()

		for _, stop := range stops {
			stop()
		}

		if err := s.page.Close(); err != nil {
			s.logger.Debug("Closing page failed", zap.Error(err))
		}
		s.closeErr = s.incognito.Close()
	})
	return s.closeErr
}
