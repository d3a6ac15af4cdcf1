package models

// MatchTier reports which step of the matching cascade produced a result
type MatchTier string

const (
	MatchExact     MatchTier = "exact"
	MatchSubstring MatchTier = "substring"
	MatchFuzzy     MatchTier = "fuzzy"
	MatchNone      MatchTier = "none"
)

// MatchResult is the outcome of matching a target title against an ordered candidate list.
// Rank is nil when no candidate clears the confidence floor; Confidence then carries the
// best similarity seen, for diagnostics.
type MatchResult struct {
	Rank                 *int      `json:"rank"`
	Index                int       `json:"index"`
	MatchedTitle         string    `json:"matched_title,omitempty"`
	Confidence           float64   `json:"confidence"`
	Tier                 MatchTier `json:"tier"`
	CandidatesConsidered []string  `json:"candidates_considered"`
}

// Found reports whether a candidate cleared the confidence floor
func (m MatchResult) Found() bool {
	return m.Rank != nil
}
