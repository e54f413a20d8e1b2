package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
)

var ErrForeignHost = errors.New("url does not belong to the target site")

const normaliseFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes

// Canonicalize rewrites any host variant of the site (mobile, locale or bare
// domain) to https://<canonicalHost><path>, dropping query and fragment.
// Relative links are resolved against the canonical host.
func Canonicalize(raw, canonicalHost string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		raw = "https://" + canonicalHost + raw
	} else if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	normalised, err := purell.NormalizeURLString(raw, normaliseFlags)
	if err != nil {
		return "", fmt.Errorf("normalise %q: %w", raw, err)
	}
	u, err := url.Parse(normalised)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}

	domain := strings.TrimPrefix(strings.ToLower(canonicalHost), "www.")
	host := u.Hostname()
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return "", fmt.Errorf("%w: %s", ErrForeignHost, host)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return "https://" + canonicalHost + path, nil
}

// propertyPathPattern matches /hotel/<cc>/<page>[.<locale>].html
var propertyPathPattern = regexp.MustCompile(`^/hotel/([a-z]{2})/([^/?#]+?)(?:\.[a-z]{2}(?:-[a-z]{2})?)?\.html$`)

// LooksLikePropertyURL reports whether a canonical URL points at a property page.
func LooksLikePropertyURL(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	return propertyPathPattern.MatchString(u.Path)
}

// propertyPathParts returns country code and page name from a property URL path.
func propertyPathParts(canonical string) (country, pagename string, ok bool) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", "", false
	}
	m := propertyPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
