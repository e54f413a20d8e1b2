package scraper

import (
	"time"

	"ratecheck/models"
)

// Selectors are the CSS hooks the engine needs from a site's markup.
type Selectors struct {
	ListingReady string
	PropertyCard string
	CardTitle    string
	CardAddress  string
	CardLink     string

	PropertyReady   string
	RoomsReady      string
	RoomRow         string
	RoomRowFallback string
	RowPrice        string

	BreakdownButton string
	BreakdownLabel  string // JS regex matched against the button text
	BreakdownTotal  string

	ConsentButton string
	ConsentLabel  string // JS regex
}

// Tokens are the values scraped from a property page that the availability
// calendar endpoint requires.
type Tokens struct {
	CSRF     string
	PageName string
	Country  string
}

// CalendarRequest describes one availability calendar call.
type CalendarRequest struct {
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    interface{}
}

// CalendarDay is one entry of the availability calendar.
type CalendarDay struct {
	Date              string
	Available         bool
	AvgPriceFormatted string
	MinLengthOfStay   int
}

// Site isolates every rule that depends on the target site's markup, wording
// or private endpoints. Implementations are versioned so that drift can be
// handled by shipping a new adapter.
type Site interface {
	Version() string
	CanonicalHost() string

	SearchURL(query string) string
	PropertyURL(canonical string, checkIn time.Time, nights int, currency string) string
	Selectors() Selectors

	ClassifyRow(text string) models.RowVerdict
	TaxInclusive(text string) bool
	MinStay(text string) (int, bool)

	Tokens(html, propertyURL string) (Tokens, error)
	CalendarRequest(t Tokens, start time.Time, days int, currency string) CalendarRequest
	ParseCalendar(body []byte) ([]CalendarDay, error)
}
