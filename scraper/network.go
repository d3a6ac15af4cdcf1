package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"spotfinder/models"

	"go.uber.org/zap"
)

const (
	// DefaultNetworkSettle bounds how long captured payloads are given to arrive
	DefaultNetworkSettle = 4 * time.Second

	minListProducts = 2
	maxPayloadDepth = 12
)

var (
	titleKeys = []string{"title", "name", "productName", "product_title", "displayName"}
	linkKeys  = []string{"url", "link", "href", "uri", "slug", "product_url", "productUrl"}
	idKeys    = []string{"plid", "productId", "product_id", "id"}
)

// CaptureCell holds the most recent product list seen on the wire.
// The response listener is its only writer; readers take a copy.
type CaptureCell struct {
	mu      sync.Mutex
	records []models.ProductRecord
	source  string
	writes  int
}

// Store replaces the captured list
func (c *CaptureCell) Store(source string, records []models.ProductRecord) {
	cp := make([]models.ProductRecord, len(records))
	copy(cp, records)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = cp
	c.source = source
	c.writes++
}

// Load returns a copy of the captured list and the URL it came from
func (c *CaptureCell) Load() ([]models.ProductRecord, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]models.ProductRecord, len(c.records))
	copy(cp, c.records)
	return cp, c.source
}

// Writes reports how many qualifying payloads have been stored
func (c *CaptureCell) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// ExtractProductList decodes a JSON payload and returns the largest nested list whose
// elements look like products. Elements that lack a title or a usable link are skipped.
// A nil slice means the payload holds no product list.
func ExtractProductList(body []byte) ([]models.ProductRecord, error) {
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var best []models.ProductRecord
	var walk func(v interface{}, depth int)
	walk = func(v interface{}, depth int) {
		if depth > maxPayloadDepth {
			return
		}
		switch t := v.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k], depth+1)
			}
		case []interface{}:
			if recs := productsFromList(t); len(recs) >= minListProducts && len(recs) > len(best) {
				best = recs
			}
			for _, item := range t {
				walk(item, depth+1)
			}
		}
	}
	walk(payload, 0)
	return best, nil
}

// productsFromList converts the qualifying elements of a list, positioned by listing order
func productsFromList(items []interface{}) []models.ProductRecord {
	var out []models.ProductRecord
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		title := firstString(obj, titleKeys)
		if title == "" {
			continue
		}
		link := productLink(obj)
		if link == "" {
			continue
		}
		out = append(out, models.ProductRecord{
			Title:      title,
			Position:   models.Point{X: 0, Y: float64(len(out))},
			Link:       link,
			SourceTier: models.TierNetwork,
		})
	}
	return out
}

func firstString(obj map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// productLink returns a PDP path for obj, building one from a bare slug and a product id
// when no field holds a full detail link
func productLink(obj map[string]interface{}) string {
	var slug string
	for _, k := range linkKeys {
		s, ok := obj[k].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if isPDPLink(s) {
			return s
		}
		if slug == "" && s != "" && !strings.ContainsAny(s, "/?#") {
			slug = s
		}
	}
	if slug == "" {
		return ""
	}

	id := productID(obj)
	if id == "" {
		return ""
	}
	return "/" + slug + "/PLID" + id
}

func productID(obj map[string]interface{}) string {
	for _, k := range idKeys {
		var raw string
		switch v := obj[k].(type) {
		case string:
			raw = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(v)), "PLID")
		case float64:
			if v <= 0 || v != float64(int64(v)) {
				continue
			}
			raw = strconv.FormatInt(int64(v), 10)
		default:
			continue
		}
		if raw != "" && isDigits(raw) {
			return raw
		}
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NetworkStrategy reads product lists from JSON responses observed during page load
type NetworkStrategy struct {
	Settle time.Duration

	cell   *CaptureCell
	stop   func()
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewNetworkStrategy creates a network strategy with its own capture cell.
// A strategy value serves a single lookup.
func NewNetworkStrategy(settle time.Duration, logger *zap.Logger) *NetworkStrategy {
	if settle <= 0 {
		settle = DefaultNetworkSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkStrategy{
		Settle: settle,
		cell:   &CaptureCell{},
		sleep:  sleepCtx,
		logger: logger,
	}
}

func (n *NetworkStrategy) Name() string { return string(models.TierNetwork) }

func (n *NetworkStrategy) Tier() models.SourceTier { return models.TierNetwork }

// Attach starts listening for JSON responses; it must run before navigation
func (n *NetworkStrategy) Attach(s Session) {
	n.stop = s.OnJSONResponse(func(url string, body []byte) {
		records, err := ExtractProductList(body)
		if err != nil {
			n.logger.Debug("Skipping undecodable payload", zap.String("url", url), zap.Error(err))
			return
		}
		if len(records) == 0 {
			return
		}
		n.cell.Store(url, records)
		n.logger.Debug("Captured product list", zap.String("url", url), zap.Int("products", len(records)))
	})
}

// Detach stops the response listener
func (n *NetworkStrategy) Detach() {
	if n.stop != nil {
		n.stop()
		n.stop = nil
	}
}

// Extract waits out the settle window, stops the listener and returns the last captured list
func (n *NetworkStrategy) Extract(ctx context.Context, _ Session) ([]models.ProductRecord, error) {
	if n.stop == nil {
		n.logger.Warn("Network strategy was not attached before navigation")
		return nil, nil
	}
	err := n.sleep(ctx, n.Settle)
	n.Detach()
	if err != nil {
		return nil, err
	}

	records, source := n.cell.Load()
	n.logger.Debug("Network extraction finished",
		zap.String("source", source),
		zap.Int("writes", n.cell.Writes()),
		zap.Int("records", len(records)))
	return records, nil
}
