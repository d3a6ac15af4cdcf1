package scraper

import (
	"context"
	"sync"
	"testing"
	"time"

	"spotfinder/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const searchPayload = `{
  "sections": {
    "banners": [{"title": "Winter sale", "url": "/promotions/winter"}],
    "products": {
      "results": [
        {"product_views": {"core": {"title": "Omron M3 Comfort", "slug": "omron-m3-comfort", "id": 5512345}}},
        {"title": "Beurer BM 28", "url": "https://www.takealot.com/beurer-bm-28/PLID700001"},
        {"name": "Braun ExactFit 3", "link": "/braun-exactfit-3/PLID700002"},
        {"displayName": "Microlife BP A2", "slug": "microlife-bp-a2", "plid": "PLID700003"},
        {"title": "", "url": "/no-title/PLID1"},
        {"title": "No link"},
        "not an object"
      ]
    }
  }
}`

func TestExtractProductList(t *testing.T) {
	records, err := ExtractProductList([]byte(searchPayload))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "Beurer BM 28", records[0].Title)
	assert.Equal(t, "https://www.takealot.com/beurer-bm-28/PLID700001", records[0].Link)
	assert.Equal(t, "Braun ExactFit 3", records[1].Title)
	assert.Equal(t, "Microlife BP A2", records[2].Title)
	assert.Equal(t, "/microlife-bp-a2/PLID700003", records[2].Link)

	for i, r := range records {
		assert.Equal(t, float64(i), r.Position.Y, "listing order index")
		assert.Equal(t, models.TierNetwork, r.SourceTier)
		assert.Zero(t, r.Rank)
	}
}

func TestExtractProductList_NestedSlugAndID(t *testing.T) {
	payload := `{"results": [
		{"title": "Omron M3", "slug": "omron-m3", "id": 101},
		{"title": "Omron M2", "slug": "omron-m2", "productId": "102"}
	]}`

	records, err := ExtractProductList([]byte(payload))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/omron-m3/PLID101", records[0].Link)
	assert.Equal(t, "/omron-m2/PLID102", records[1].Link)
}

func TestExtractProductList_PicksLargestList(t *testing.T) {
	payload := `{
		"a": [{"title": "X", "url": "/x/PLID1"}, {"title": "Y", "url": "/y/PLID2"}],
		"b": [{"title": "P", "url": "/p/PLID3"}, {"title": "Q", "url": "/q/PLID4"}, {"title": "R", "url": "/r/PLID5"}]
	}`

	records, err := ExtractProductList([]byte(payload))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "P", records[0].Title)
}

func TestExtractProductList_NoProducts(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"single product is not a list", `{"items": [{"title": "X", "url": "/x/PLID1"}]}`},
		{"non product links", `[{"title": "Brand", "url": "/brand/omron"}, {"title": "Search", "url": "/all?_sb=omron"}]`},
		{"slug without id", `[{"title": "A", "slug": "a"}, {"title": "B", "slug": "b"}]`},
		{"scalar", `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ExtractProductList([]byte(tt.payload))
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestExtractProductList_MalformedJSON(t *testing.T) {
	_, err := ExtractProductList([]byte(`{"results": [`))
	assert.Error(t, err)
}

func TestCaptureCell_LastWriteWins(t *testing.T) {
	var cell CaptureCell

	cell.Store("first", []models.ProductRecord{{Title: "A"}, {Title: "B"}})
	cell.Store("second", []models.ProductRecord{{Title: "C"}})

	records, source := cell.Load()
	assert.Equal(t, "second", source)
	assert.Equal(t, []models.ProductRecord{{Title: "C"}}, records)
	assert.Equal(t, 2, cell.Writes())

	records[0].Title = "mutated"
	again, _ := cell.Load()
	assert.Equal(t, "C", again[0].Title, "Load returns a copy")
}

func TestCaptureCell_ConcurrentWriters(t *testing.T) {
	var cell CaptureCell
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cell.Store("u", []models.ProductRecord{{Title: "A"}, {Title: "B"}})
		}()
	}
	wg.Wait()

	records, _ := cell.Load()
	assert.Len(t, records, 2)
	assert.Equal(t, 20, cell.Writes())
}

func TestNetworkStrategy_ReadsCaptureAfterSettle(t *testing.T) {
	sess := newFakeSession(nil)
	sess.payloads = map[string]string{
		"https://api.example.com/rest/v-1-10-0/searches/products": searchPayload,
		"https://api.example.com/config.json":                     `{"flags": {"a": true}}`,
		"https://api.example.com/broken.json":                     `{"oops`,
	}

	strategy := NewNetworkStrategy(time.Second, zaptest.NewLogger(t))
	var slept time.Duration
	strategy.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	strategy.Attach(sess)
	require.NoError(t, sess.Navigate(context.Background(), "https://www.takealot.com/all?_sb=x"))

	records, err := strategy.Extract(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, time.Second, slept)
	assert.Equal(t, 1, sess.stopCount, "listener stopped before reading")
}

func TestNetworkStrategy_NotAttached(t *testing.T) {
	strategy := NewNetworkStrategy(0, nil)
	records, err := strategy.Extract(context.Background(), newFakeSession(nil))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, DefaultNetworkSettle, strategy.Settle)
}

func TestNetworkStrategy_CancelledDuringSettle(t *testing.T) {
	sess := newFakeSession(nil)
	strategy := NewNetworkStrategy(time.Hour, nil)
	strategy.Attach(sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := strategy.Extract(ctx, sess)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sess.stopCount)
}

func TestIsPDPLink(t *testing.T) {
	tests := []struct {
		href string
		want bool
	}{
		{"https://www.takealot.com/omron-m3/PLID12345", true},
		{"/omron-m3/PLID12345?colour=white", true},
		{"/p/omron-m3", true},
		{"/brand/omron", false},
		{"/all?_sb=omron", false},
		{"/omron-m3/PLID12345?_sb=omron", false},
		{"/deals", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, isPDPLink(tt.href))
		})
	}
}
