package scraper

import (
	"strings"
	"unicode/utf8"

	"spotfinder/models"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultFuzzyThreshold is the minimum similarity for a fuzzy-tier match
	DefaultFuzzyThreshold = 0.92

	exactConfidence     = 1.0
	substringConfidence = 0.99
)

// Matcher finds a target title in an ordered candidate list using an
// exact, then substring, then fuzzy-similarity cascade.
type Matcher struct {
	Threshold float64
}

// NewMatcher creates a matcher; a non-positive threshold selects DefaultFuzzyThreshold
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match returns the first exact hit, else the first substring hit (either direction),
// else the most similar candidate if it clears the threshold. Ranks are 1-based
// positions in candidates.
func (m *Matcher) Match(target string, candidates []string) models.MatchResult {
	normalized := make([]string, len(candidates))
	for i, c := range candidates {
		normalized[i] = NormalizeTitle(c)
	}

	result := models.MatchResult{
		Index:                -1,
		Tier:                 models.MatchNone,
		CandidatesConsidered: normalized,
	}

	want := NormalizeTitle(target)
	if want == "" {
		return result
	}

	for i, c := range normalized {
		if c == want {
			return hit(result, i, candidates[i], exactConfidence, models.MatchExact)
		}
	}

	wantCompact := compactTitle(want)
	for i, c := range normalized {
		if c == "" {
			continue
		}
		if containsEither(c, want) || containsEither(compactTitle(c), wantCompact) {
			return hit(result, i, candidates[i], substringConfidence, models.MatchSubstring)
		}
	}

	best, bestIdx := 0.0, -1
	for i, c := range normalized {
		if r := similarity(want, c); r > best {
			best, bestIdx = r, i
		}
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	if bestIdx >= 0 && best >= threshold {
		return hit(result, bestIdx, candidates[bestIdx], best, models.MatchFuzzy)
	}

	result.Confidence = best
	return result
}

func hit(result models.MatchResult, idx int, title string, confidence float64, tier models.MatchTier) models.MatchResult {
	rank := idx + 1
	result.Rank = &rank
	result.Index = idx
	result.MatchedTitle = title
	result.Confidence = confidence
	result.Tier = tier
	return result
}

func containsEither(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// similarity is the normalized Levenshtein ratio in [0, 1]
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	ratio := 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}
