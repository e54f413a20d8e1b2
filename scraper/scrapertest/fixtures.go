package scrapertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"ratecheck/scraper"
)

// Card is one search result card.
type Card struct {
	Title   string
	Address string
	Href    string
}

// SearchHTML renders a search results page with the given cards.
func SearchHTML(cards ...Card) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="results">`)
	for _, c := range cards {
		fmt.Fprintf(&b,
			`<div data-testid="property-card"><a href="%s"><div data-testid="title">%s</div></a><span data-testid="address">%s</span></div>`,
			c.Href, c.Title, c.Address)
	}
	b.WriteString(`</div>` + filler + `</body></html>`)
	return b.String()
}

// PropertyHTML renders a property page. With tokens set it embeds the
// values the availability calendar needs.
func PropertyHTML(body string, tokens bool) string {
	script := ""
	if tokens {
		script = `<script>var booking = { env: { b_csrf_token: 'csrf-abc123', b_hotel_cc1: 'de' } };</script>`
	}
	return `<html><head><title>Hotel</title>` + script + `</head><body><div data-testid="property-page">` +
		body + `</div>` + filler + `</body></html>`
}

// filler keeps scripted pages at a realistic length.
var filler = `<footer>` + strings.Repeat("Property details, facilities and house rules. ", 40) + `</footer>`

// CalendarDay mirrors one availability calendar entry.
type CalendarDay struct {
	Checkin           string `json:"checkin"`
	Available         bool   `json:"available"`
	AvgPriceFormatted string `json:"avgPriceFormatted"`
	MinLengthOfStay   int    `json:"minLengthOfStay"`
}

// CalendarServer serves the availability calendar endpoint.
type CalendarServer struct {
	*httptest.Server

	mu     sync.Mutex
	Status int
	Days   []CalendarDay
	bodies []map[string]interface{}
	tokens []string
}

func NewCalendarServer(days ...CalendarDay) *CalendarServer {
	cs := &CalendarServer{Status: http.StatusOK, Days: days}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.serve))
	return cs
}

func (cs *CalendarServer) serve(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	cs.bodies = append(cs.bodies, body)
	cs.tokens = append(cs.tokens, r.Header.Get("X-Booking-Csrf-Token"))

	if r.URL.Path != "/dml/graphql" {
		http.NotFound(w, r)
		return
	}
	if cs.Status != http.StatusOK {
		w.WriteHeader(cs.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			"availabilityCalendar": map[string]interface{}{
				"__typename": "AvailabilityCalendarQueryResult",
				"days":       cs.Days,
			},
		},
	})
}

// Requests returns the decoded request bodies received so far.
func (cs *CalendarServer) Requests() []map[string]interface{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]map[string]interface{}(nil), cs.bodies...)
}

// CSRFTokens returns the anti-forgery header of every request.
func (cs *CalendarServer) CSRFTokens() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.tokens...)
}

// FastConfig is an engine configuration with no pauses and short timeouts,
// sending calendar requests to calendarURL.
func FastConfig(calendarURL string) scraper.EngineConfig {
	return scraper.EngineConfig{
		Resolver: scraper.ResolverOptions{
			MaxCandidates:  30,
			CityBonus:      15,
			ListingTimeout: time.Second,
		},
		Extractor: scraper.ExtractorOptions{
			MaxRows:          15,
			RoomsTimeout:     time.Second,
			BreakdownTimeout: time.Second,
		},
		Fallback: scraper.FallbackOptions{
			BaseURL:           calendarURL,
			Timeout:           5 * time.Second,
			RequestsPerSecond: 1000,
			Burst:             100,
		},
		PageTimeout:     time.Second,
		FallbackEnabled: true,
	}
}
