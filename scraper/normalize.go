package scraper

import (
	"strings"
)

var titleReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u2013", "-",
	"\u2014", "-",
	"\u00ae", "",
	"\u2122", "",
	"\u00a9", "",
	"'", "",
	"\u2019", "",
	"\u2018", "",
)

// NormalizeTitle canonicalizes a listing title for comparison.
// The result is lowercase, single-spaced and free of trademark marks and apostrophes;
// NormalizeTitle(NormalizeTitle(s)) == NormalizeTitle(s).
func NormalizeTitle(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = titleReplacer.Replace(s)
	// Fields splits on any unicode whitespace, which also collapses runs and trims
	return strings.Join(strings.Fields(s), " ")
}

// compactTitle drops all spaces from a normalized title, so "bm28" and "bm 28" compare equal
func compactTitle(normalized string) string {
	return strings.ReplaceAll(normalized, " ", "")
}
