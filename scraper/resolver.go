package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"ratecheck/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ResolverOptions tune property resolution.
type ResolverOptions struct {
	MaxCandidates  int
	CityBonus      float64
	ListingTimeout time.Duration
	PauseMin       time.Duration
	PauseMax       time.Duration
	CacheSize      int
	CacheTTL       time.Duration
}

// Candidate is one property card from the search results.
type Candidate struct {
	Title   string
	Address string
	Href    string
	Score   float64
}

// Resolver finds the property page for a hotel given only its name.
type Resolver struct {
	site   Site
	opts   ResolverOptions
	cache  *expirable.LRU[string, string]
	logger *slog.Logger
}

func NewResolver(site Site, opts ResolverOptions, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 30
	}
	r := &Resolver{site: site, opts: opts, logger: logger}
	if opts.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL)
	}
	return r
}

func cacheKey(h models.HotelDescriptor) string {
	return strings.ToLower(strings.TrimSpace(h.Name)) + "|" + strings.ToLower(strings.TrimSpace(h.City))
}

// Resolve searches the site and returns the canonical URL of the best match.
func (r *Resolver) Resolve(ctx context.Context, sess Session, hotel models.HotelDescriptor) (string, error) {
	key := cacheKey(hotel)
	if r.cache != nil {
		if u, ok := r.cache.Get(key); ok {
			return u, nil
		}
	}

	query := strings.TrimSpace(hotel.Name)
	if city := strings.TrimSpace(hotel.City); city != "" {
		query += " " + city
	}
	if err := sess.Navigate(ctx, r.site.SearchURL(query)); err != nil {
		return "", err
	}

	sel := r.site.Selectors()
	if err := sess.WaitFor(ctx, sel.ListingReady, r.opts.ListingTimeout); err != nil {
		return "", models.ResolutionFailure(models.ReasonNoListing, err.Error())
	}
	if err := Jitter(ctx, r.opts.PauseMin, r.opts.PauseMax); err != nil {
		return "", err
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("read search results: %w", err)
	}
	candidates := ParseCandidates(html, sel, r.opts.MaxCandidates)
	best, ok := SelectCandidate(candidates, hotel.Name, hotel.City, r.opts.CityBonus)
	if !ok {
		return "", models.ResolutionFailure(models.ReasonNoURL, "no candidates for "+query)
	}

	canonical, err := Canonicalize(best.Href, r.site.CanonicalHost())
	if err != nil {
		return "", models.ResolutionFailure(models.ReasonNoURL, err.Error())
	}
	r.logger.Debug("property resolved",
		"hotel", hotel.Name,
		"title", best.Title,
		"score", best.Score,
		"candidates", len(candidates),
	)
	if r.cache != nil {
		r.cache.Add(key, canonical)
	}
	return canonical, nil
}

// ParseCandidates reads up to limit property cards that carry a link.
func ParseCandidates(html string, sel Selectors, limit int) []Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []Candidate
	doc.Find(sel.PropertyCard).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		href, ok := card.Find(sel.CardLink).First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		out = append(out, Candidate{
			Title:   collapse(card.Find(sel.CardTitle).First().Text()),
			Address: collapse(card.Find(sel.CardAddress).First().Text()),
			Href:    strings.TrimSpace(href),
		})
		return limit <= 0 || len(out) < limit
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SelectCandidate scores every candidate and returns the highest. Ties keep
// the earliest card.
func SelectCandidate(candidates []Candidate, name, city string, cityBonus float64) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	city = strings.ToLower(strings.TrimSpace(city))

	bestIdx := -1
	var best Candidate
	for i, c := range candidates {
		c.Score = TokenSortRatio(name, c.Title)
		if city != "" && strings.Contains(strings.ToLower(c.Title+" "+c.Address), city) {
			c.Score += cityBonus
		}
		if bestIdx < 0 || c.Score > best.Score {
			bestIdx, best = i, c
		}
	}
	return best, true
}

// TokenSortRatio compares two names on their sorted, lower-cased tokens and
// returns a similarity between 0 and 100.
func TokenSortRatio(a, b string) float64 {
	sa, sb := sortedTokens(a), sortedTokens(b)
	if sa == sb {
		return 100
	}
	longest := max(len([]rune(sa)), len([]rune(sb)))
	if longest == 0 {
		return 0
	}
	ratio := 100 * (1 - float64(matchr.Levenshtein(sa, sb))/float64(longest))
	return min(100, max(0, ratio))
}

func sortedTokens(s string) string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
