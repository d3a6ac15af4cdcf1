package scraper

import (
	"context"
	"errors"
	"testing"

	"spotfinder/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestStrictStrategy_PassesPatternsAndOrders(t *testing.T) {
	var gotArgs []interface{}
	sess := newFakeSession(func(js string, args []interface{}) (interface{}, error) {
		require.Equal(t, strictTilesJS, js)
		gotArgs = args
		return []rawTile{
			tile("Second row", 0, 600),
			tile("First row right", 300, 100),
			{Title: "   ", X: 0, Y: 0, Width: 200, Height: 200},
			tile("First row left", 0, 100),
		}, nil
	})

	s := NewStrictStrategy(0, zaptest.NewLogger(t))
	records, err := s.Extract(context.Background(), sess)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "First row left", records[0].Title)
	assert.Equal(t, "First row right", records[1].Title)
	assert.Equal(t, "Second row", records[2].Title)
	for _, r := range records {
		assert.Equal(t, models.TierStrict, r.SourceTier)
		assert.Zero(t, r.Rank)
	}

	assert.Equal(t, []interface{}{pdpLinkPattern, nonPDPLinkPattern, actionTextPattern, cardSelector, DefaultMinTileSize}, gotArgs)
	assert.Equal(t, "strict", s.Name())
	assert.Equal(t, models.TierStrict, s.Tier())
}

func TestRelaxedStrategy_UsesRelaxedScript(t *testing.T) {
	sess := newFakeSession(func(js string, args []interface{}) (interface{}, error) {
		require.Equal(t, relaxedTilesJS, js)
		require.Len(t, args, 4)
		assert.Equal(t, 150.0, args[3])
		return []rawTile{tile("Only", 10, 10)}, nil
	})

	records, err := NewRelaxedStrategy(150, nil).Extract(context.Background(), sess)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.TierRelaxed, records[0].SourceTier)
	assert.Equal(t, models.Size{Width: 280, Height: 380}, records[0].Size)
}

func TestStrategies_WrapEvalErrors(t *testing.T) {
	boom := errors.New("boom")
	sess := newFakeSession(func(string, []interface{}) (interface{}, error) { return nil, boom })

	_, err := NewStrictStrategy(0, nil).Extract(context.Background(), sess)
	assert.ErrorIs(t, err, boom)

	_, err = NewRelaxedStrategy(0, nil).Extract(context.Background(), sess)
	assert.ErrorIs(t, err, boom)
}

func TestSortReadingOrder_StableForTies(t *testing.T) {
	records := []models.ProductRecord{
		{Title: "b", Position: models.Point{X: 100, Y: 50}},
		{Title: "a", Position: models.Point{X: 100, Y: 50}},
		{Title: "c", Position: models.Point{X: 0, Y: 50.3}},
	}
	SortReadingOrder(records)

	assert.Equal(t, "c", records[0].Title)
	assert.Equal(t, "b", records[1].Title)
	assert.Equal(t, "a", records[2].Title)
}

func TestTilesToRecords_Empty(t *testing.T) {
	assert.Empty(t, tilesToRecords(nil, models.TierStrict, zap.NewNop()))
}

func TestBotDetector(t *testing.T) {
	bd := NewBotDetector()

	tests := []struct {
		name  string
		text  string
		title string
		links int
		want  bool
	}{
		{"captcha interstitial", "Please complete the CAPTCHA to continue", "Security check", 0, true},
		{"access denied", "Access denied. Reference #18.2f", "Access Denied", 0, true},
		{"listing mentioning captcha", "Captcha Pro Gaming Mouse - Add to Cart", "Search results", 24, false},
		{"empty results page", "No results found for your search", "Search", 0, false},
		{"ordinary page", "Blood pressure monitors on sale", "Takealot", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := bd.IsWall(tt.text, tt.title, tt.links)
			assert.Equal(t, tt.want, got)
			if got {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestNavigationErrorClassification(t *testing.T) {
	err := newNavigationError("https://x", context.DeadlineExceeded)
	assert.Equal(t, NavTimeout, err.Reason)
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Contains(t, err.Error(), "https://x")

	err = newNavigationError("https://x", errors.New("net::ERR_CONNECTION_REFUSED"))
	assert.Equal(t, NavNetwork, err.Reason)

	blocked := &NavigationError{URL: "https://x", Reason: NavBlocked}
	assert.Equal(t, "navigate to https://x: blocked", blocked.Error())
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "blood_pressure_monitor", Slug("Blood Pressure  Monitor!"))
	assert.Equal(t, "page", Slug("***"))
	assert.LessOrEqual(t, len(Slug("a very long product title that keeps going and going and going forever")), 60)
}
