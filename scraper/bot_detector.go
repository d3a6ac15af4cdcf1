package scraper

import (
	"context"
	"regexp"
	"strings"
)

// pageSnapshotJS returns the visible text head, the title and the PDP link count
const pageSnapshotJS = `(pdpSrc, notPdpSrc) => {
  const PDP = new RegExp(pdpSrc, 'i');
  const NOT_PDP = new RegExp(notPdpSrc, 'i');
  let links = 0;
  for (const a of document.querySelectorAll('a[href]')) {
    const href = a.getAttribute('href') || '';
    if (PDP.test(href) && !NOT_PDP.test(href)) links++;
  }
  const text = document.body ? (document.body.innerText || '') : '';
  return { title: document.title || '', text: text.slice(0, 5000), links: links };
}`

type pageSnapshot struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	Links int    `json:"links"`
}

// BotDetector recognises bot walls and CAPTCHA interstitials served instead of a listing
type BotDetector struct {
	wallPatterns    []*regexp.Regexp
	captchaPatterns []*regexp.Regexp
	errorPatterns   []*regexp.Regexp
}

// NewBotDetector creates a detector with the known wall signatures
func NewBotDetector() *BotDetector {
	return &BotDetector{
		wallPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)unfortunately we are unable`),
			regexp.MustCompile(`(?i)access denied`),
			regexp.MustCompile(`(?i)bot detected`),
			regexp.MustCompile(`(?i)security check`),
			regexp.MustCompile(`(?i)checking your browser`),
			regexp.MustCompile(`(?i)ddos protection`),
			regexp.MustCompile(`(?i)cloudflare`),
			regexp.MustCompile(`(?i)imperva|incapsula`),
			regexp.MustCompile(`(?i)request unsuccessful`),
		},
		captchaPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)captcha`),
			regexp.MustCompile(`(?i)verify you are (a )?human`),
			regexp.MustCompile(`(?i)select all images`),
			regexp.MustCompile(`(?i)press (and|&) hold`),
		},
		errorPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)403 forbidden`),
			regexp.MustCompile(`(?i)429 too many requests`),
			regexp.MustCompile(`(?i)503 service unavailable`),
			regexp.MustCompile(`(?i)site temporarily unavailable`),
		},
	}
}

// Score rates how much page text looks like a wall, in [0, 1], with the matched reasons
func (bd *BotDetector) Score(text, title string) (float64, []string) {
	content := strings.ToLower(text + " " + title)

	score := 0.0
	var reasons []string
	for _, p := range bd.wallPatterns {
		if p.MatchString(content) {
			score += 0.3
			reasons = append(reasons, p.String())
		}
	}
	for _, p := range bd.captchaPatterns {
		if p.MatchString(content) {
			score += 0.5
			reasons = append(reasons, "captcha: "+p.String())
		}
	}
	for _, p := range bd.errorPatterns {
		if p.MatchString(content) {
			score += 0.4
			reasons = append(reasons, "http error: "+p.String())
		}
	}

	// interstitials are short
	if score > 0 && len(content) < 1000 {
		score += 0.2
		reasons = append(reasons, "short page with wall indicators")
	}
	if score > 1 {
		score = 1
	}
	return score, reasons
}

// IsWall reports whether the text looks like a wall. A page that renders product links is
// never a wall, whatever its text says; listings routinely mention words like "captcha"
// in product names.
func (bd *BotDetector) IsWall(text, title string, productLinks int) (bool, string) {
	if productLinks > 0 {
		return false, ""
	}
	score, reasons := bd.Score(text, title)
	if score <= 0.3 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

// Check inspects the loaded page. Evaluation failures are returned as errors.
func (bd *BotDetector) Check(ctx context.Context, s Session) (bool, string, error) {
	var snap pageSnapshot
	if err := s.Eval(ctx, pageSnapshotJS, &snap, pdpLinkPattern, nonPDPLinkPattern); err != nil {
		return false, "", err
	}
	blocked, reason := bd.IsWall(snap.Text, snap.Title, snap.Links)
	return blocked, reason, nil
}
