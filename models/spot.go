package models

import "time"

// SpotRequest is the input of one spot lookup
type SpotRequest struct {
	SearchCategory string `json:"search_category"`
	ProductName    string `json:"product_name"`
	SaveDebug      bool   `json:"save_debug"`
}

// SpotResult is the outcome of one spot lookup
type SpotResult struct {
	SearchCategory string          `json:"search_category"`
	ProductName    string          `json:"product_name"`
	SearchURL      string          `json:"search_url"`
	Rank           *int            `json:"rank"`
	MatchedTitle   string          `json:"matched_title,omitempty"`
	UsedFallback   bool            `json:"used_fallback"`
	Strategy       string          `json:"strategy,omitempty"`
	Match          MatchResult     `json:"match"`
	Evidence       []ProductRecord `json:"evidence"`
	TotalSeen      int             `json:"total_seen"`
	DebugArtifacts []string        `json:"debug_artifacts,omitempty"`
	Duration       time.Duration   `json:"duration"`
}

// Found reports whether the product was located in the listing
func (r *SpotResult) Found() bool {
	return r != nil && r.Rank != nil
}

// SeenTitles returns up to limit titles from the evidence, in rank order
func (r *SpotResult) SeenTitles(limit int) []string {
	if r == nil {
		return nil
	}
	titles := make([]string, 0, len(r.Evidence))
	for _, rec := range r.Evidence {
		if limit > 0 && len(titles) >= limit {
			break
		}
		titles = append(titles, rec.Title)
	}
	return titles
}
