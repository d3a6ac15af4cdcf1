package handlers

import "spotfinder/models"

// SeenTitlesLimit caps the titles echoed back when a product was not found
const SeenTitlesLimit = 20

// SpotResponse is the API view of a lookup
type SpotResponse struct {
	SearchCategory string                 `json:"search_category"`
	ProductName    string                 `json:"product_name"`
	SearchURL      string                 `json:"search_url"`
	Found          bool                   `json:"found"`
	Rank           *int                   `json:"rank"`
	MatchedTitle   string                 `json:"matched_title,omitempty"`
	Confidence     float64                `json:"confidence"`
	MatchTier      models.MatchTier       `json:"match_tier"`
	UsedFallback   bool                   `json:"used_fallback"`
	Strategy       string                 `json:"strategy,omitempty"`
	TotalSeen      int                    `json:"total_seen"`
	SeenTitles     []string               `json:"seen_titles,omitempty"`
	Evidence       []models.ProductRecord `json:"evidence"`
	DebugArtifacts []string               `json:"debug_artifacts,omitempty"`
	DurationMS     int64                  `json:"duration_ms"`
}

// NewSpotResponse flattens a SpotResult. Titles seen are only listed when
// the product was not found.
func NewSpotResponse(result *models.SpotResult) SpotResponse {
	resp := SpotResponse{
		SearchCategory: result.SearchCategory,
		ProductName:    result.ProductName,
		SearchURL:      result.SearchURL,
		Found:          result.Found(),
		Rank:           result.Rank,
		MatchedTitle:   result.MatchedTitle,
		Confidence:     result.Match.Confidence,
		MatchTier:      result.Match.Tier,
		UsedFallback:   result.UsedFallback,
		Strategy:       result.Strategy,
		TotalSeen:      result.TotalSeen,
		Evidence:       result.Evidence,
		DebugArtifacts: result.DebugArtifacts,
		DurationMS:     result.Duration.Milliseconds(),
	}
	if resp.Evidence == nil {
		resp.Evidence = []models.ProductRecord{}
	}
	if !resp.Found {
		resp.SeenTitles = result.SeenTitles(SeenTitlesLimit)
	}
	return resp
}
