package scraper

import (
	"regexp"
	"strings"
)

// BotDetector recognises challenge and block pages served instead of the
// requested page.
type BotDetector struct {
	botPatterns     []*regexp.Regexp
	captchaPatterns []*regexp.Regexp
	blockPatterns   []*regexp.Regexp
}

// NewBotDetector creates a new bot detector
func NewBotDetector() *BotDetector {
	return &BotDetector{
		botPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)access denied`),
			regexp.MustCompile(`(?i)bot detected`),
			regexp.MustCompile(`(?i)unusual traffic`),
			regexp.MustCompile(`(?i)security check`),
			regexp.MustCompile(`(?i)too many requests`),
			regexp.MustCompile(`(?i)checking your browser`),
			regexp.MustCompile(`(?i)ddos protection`),
			regexp.MustCompile(`(?i)are you a robot`),
		},
		captchaPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)captcha`),
			regexp.MustCompile(`(?i)verify you are (a )?human`),
			regexp.MustCompile(`(?i)select all images`),
			regexp.MustCompile(`(?i)click the checkbox`),
		},
		blockPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)403 forbidden`),
			regexp.MustCompile(`(?i)429 too many requests`),
			regexp.MustCompile(`(?i)503 service unavailable`),
			regexp.MustCompile(`(?i)site temporarily unavailable`),
		},
	}
}

// DetectBotWall scores visible page text and title. It reports a wall when
// the score passes 0.3, with the matched patterns as reason.
func (bd *BotDetector) DetectBotWall(visibleText, pageTitle string) (bool, string, float64) {
	content := strings.ToLower(visibleText + " " + pageTitle)

	score := 0.0
	var reasons []string

	for _, pattern := range bd.botPatterns {
		if pattern.MatchString(content) {
			score += 0.3
			reasons = append(reasons, pattern.String())
		}
	}
	// a lone captcha mention (a reCAPTCHA footer) needs a second signal
	for _, pattern := range bd.captchaPatterns {
		if pattern.MatchString(content) {
			score += 0.3
			reasons = append(reasons, "captcha: "+pattern.String())
		}
	}
	for _, pattern := range bd.blockPatterns {
		if pattern.MatchString(content) {
			score += 0.4
			reasons = append(reasons, "http error: "+pattern.String())
		}
	}

	// challenge pages are short; a real property page never is
	if len(content) < 1000 && score > 0 {
		score += 0.2
		reasons = append(reasons, "short page")
	}

	if score > 1.0 {
		score = 1.0
	}
	return score > 0.3, strings.Join(reasons, "; "), score
}

// BlockType classifies a detected wall.
func (bd *BotDetector) BlockType(visibleText, pageTitle string) string {
	content := strings.ToLower(visibleText + " " + pageTitle)
	for _, pattern := range bd.captchaPatterns {
		if pattern.MatchString(content) {
			return "captcha"
		}
	}
	for _, pattern := range bd.blockPatterns {
		if pattern.MatchString(content) {
			return "http_error"
		}
	}
	return "bot_wall"
}
