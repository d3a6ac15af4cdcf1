package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// DebugWriter dumps a screenshot and the page markup of a lookup to disk
type DebugWriter struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewDebugWriter creates a writer rooted at dir
func NewDebugWriter(dir string, logger *zap.Logger) *DebugWriter {
	if dir == "" {
		dir = "debug"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugWriter{dir: dir, now: time.Now, logger: logger}
}

// Save writes <dir>/<timestamp>_<slug>.png and .html and returns the written paths.
// Each artifact is best effort; a failed capture is logged and skipped.
func (w *DebugWriter) Save(ctx context.Context, s Session, label string) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	base := filepath.Join(w.dir, w.now().Format("20060102_150405")+"_"+Slug(label))
	var paths []string

	if png, err := s.Screenshot(ctx); err != nil {
		w.logger.Warn("Debug screenshot failed", zap.Error(err))
	} else if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		w.logger.Warn("Writing debug screenshot failed", zap.Error(err))
	} else {
		paths = append(paths, base+".png")
	}

	if html, err := s.HTML(ctx); err != nil {
		w.logger.Warn("Debug HTML capture failed", zap.Error(err))
	} else if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		w.logger.Warn("Writing debug HTML failed", zap.Error(err))
	} else {
		paths = append(paths, base+".html")
	}

	return paths, nil
}

// Slug turns free text into a short file-name-safe token
func Slug(s string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "_"), "_")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "_")
	}
	if slug == "" {
		return "page"
	}
	return slug
}
