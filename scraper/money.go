package scraper

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPolicy selects which amount wins when a text holds several.
type MoneyPolicy int

const (
	// PolicyLast takes the last amount, used for price cells where a struck
	// through original price precedes the current one.
	PolicyLast MoneyPolicy = iota
	// PolicyMax takes the largest amount, used for breakdown blocks where the
	// grand total is the largest figure.
	PolicyMax
)

var (
	// digits joined by . or , groups, or thousands grouped by (narrow) spaces
	amountPattern = regexp.MustCompile(`(?:\d{1,3}(?:[ \x{00A0}\x{202F}]\d{3})+|\d+)(?:[.,]\d+)*`)
	spacePattern  = regexp.MustCompile(`[ \x{00A0}\x{202F}]`)
)

// ParseMoney extracts a monetary amount from free text in any of the site's
// locale formats. It returns false when the text holds no number.
func ParseMoney(text string, policy MoneyPolicy) (decimal.Decimal, bool) {
	var found []decimal.Decimal
	for _, token := range amountPattern.FindAllString(text, -1) {
		if v, ok := normaliseAmount(token); ok {
			found = append(found, v)
		}
	}
	if len(found) == 0 {
		return decimal.Decimal{}, false
	}

	if policy == PolicyMax {
		best := found[0]
		for _, v := range found[1:] {
			if v.GreaterThan(best) {
				best = v
			}
		}
		return best, true
	}
	return found[len(found)-1], true
}

// normaliseAmount resolves decimal and thousands separators in one token.
func normaliseAmount(token string) (decimal.Decimal, bool) {
	token = spacePattern.ReplaceAllString(token, "")

	lastComma := strings.LastIndex(token, ",")
	lastDot := strings.LastIndex(token, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			token = strings.ReplaceAll(token, ".", "")
			token = strings.Replace(token, ",", ".", 1)
		} else {
			token = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		token = resolveSingleSeparator(token, ",")
	case lastDot >= 0:
		token = resolveSingleSeparator(token, ".")
	}

	v, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return v, true
}

// resolveSingleSeparator handles tokens that use only one separator kind.
// Repeated, or followed by exactly three digits, it groups thousands;
// otherwise it marks decimals.
func resolveSingleSeparator(token, sep string) string {
	if strings.Count(token, sep) > 1 {
		return strings.ReplaceAll(token, sep, "")
	}
	idx := strings.Index(token, sep)
	if len(token)-idx-1 == 3 {
		return strings.ReplaceAll(token, sep, "")
	}
	return strings.Replace(token, sep, ".", 1)
}
