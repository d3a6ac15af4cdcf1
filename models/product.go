package models

// SourceTier names the extraction heuristic that produced a record
type SourceTier string

const (
	TierStrict  SourceTier = "strict"
	TierRelaxed SourceTier = "relaxed"
	TierNetwork SourceTier = "network"
)

// Point is a page-absolute coordinate (DOM strategies) or a listing index (network strategy)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the rendered size of a tile
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ProductRecord is one observed listing entry.
//
// Rank is zero until the spot finder orders the deduplicated list; extraction
// strategies never set it.
type ProductRecord struct {
	Title      string     `json:"title"`
	Position   Point      `json:"position"`
	Size       Size       `json:"size"`
	Link       string     `json:"link,omitempty"`
	Rank       int        `json:"rank"`
	SourceTier SourceTier `json:"source_tier"`
}
