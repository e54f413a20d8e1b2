package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ratecheck/models"
)

const (
	BookingVersion = "booking.com/2024-08"
	BookingHost    = "www.booking.com"

	maxMinStayNights = 30
)

var errMissingTokens = errors.New("calendar tokens not present on page")

// BookingSite holds the booking.com rules.
type BookingSite struct {
	host string

	singlePhrases    []string
	breakfastPhrases []string
	taxPhrases       []string
	minStayPatterns  []*regexp.Regexp

	csrfPatterns     []*regexp.Regexp
	pageNamePatterns []*regexp.Regexp
	countryPatterns  []*regexp.Regexp
}

// NewBookingSite builds the adapter. An empty host uses www.booking.com.
func NewBookingSite(host string) *BookingSite {
	if host == "" {
		host = BookingHost
	}
	return &BookingSite{
		host: host,
		singlePhrases: []string{
			"single room",
			"einzelzimmer",
			"camera singola",
			"chambre simple",
			"habitación individual",
		},
		breakfastPhrases: []string{
			"breakfast included",
			"mit frühstück",
			"frühstück inklusive",
			"colazione inclusa",
			"petit-déjeuner compris",
			"desayuno incluido",
		},
		taxPhrases: []string{
			"includes taxes and charges",
			"includes taxes and fees",
			"inklusive steuern und gebühren",
			"inkl. steuern und gebühren",
			"tasse e oneri inclusi",
			"taxes et frais compris",
			"incluye impuestos y cargos",
		},
		minStayPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\bmin(?:imum|\.)[^0-9]{0,25}?(\d+)[^0-9]{0,10}night`),
			regexp.MustCompile(`\bmindest(?:aufenthalt|ens)[^0-9]{0,25}?(\d+)[^0-9]{0,10}n(?:ä|ae)cht`),
			regexp.MustCompile(`\bminimo[^0-9]{0,25}?(\d+)[^0-9]{0,10}nott`),
			regexp.MustCompile(`\bminimum[^0-9]{0,25}?(\d+)[^0-9]{0,10}nuit`),
			regexp.MustCompile(`m[íi]nim[ao][^0-9]{0,25}?(\d+)[^0-9]{0,10}noche`),
		},
		csrfPatterns: []*regexp.Regexp{
			regexp.MustCompile(`b_csrf_token['"]?\s*[:=]\s*['"]([^'"]+)['"]`),
			regexp.MustCompile(`csrfToken['"]?\s*[:=]\s*['"]([^'"]+)['"]`),
		},
		pageNamePatterns: []*regexp.Regexp{
			regexp.MustCompile(`hotel_?page_?name['"]?\s*[:=]\s*['"]([A-Za-z0-9][A-Za-z0-9._-]*)['"]`),
			regexp.MustCompile(`"pagename"\s*:\s*"([A-Za-z0-9][A-Za-z0-9._-]*)"`),
		},
		countryPatterns: []*regexp.Regexp{
			regexp.MustCompile(`b_hotel_cc1['"]?\s*[:=]\s*['"]([a-z]{2})['"]`),
			regexp.MustCompile(`hotelCountry['"]?\s*[:=]\s*['"]([a-z]{2})['"]`),
		},
	}
}

func (s *BookingSite) Version() string { return BookingVersion }
func (s *BookingSite) CanonicalHost() string { return s.host }

func (s *BookingSite) SearchURL(query string) string {
	q := url.Values{}
	q.Set("ss", query)
	q.Set("lang", "en-gb")
	q.Set("group_adults", "2")
	q.Set("no_rooms", "1")
	q.Set("group_children", "0")
	return "https://" + s.host + "/searchresults.html?" + q.Encode()
}

func (s *BookingSite) PropertyURL(canonical string, checkIn time.Time, nights int, currency string) string {
	if nights < 1 {
		nights = 1
	}
	q := url.Values{}
	q.Set("checkin", checkIn.Format(models.ISODateLayout))
	q.Set("checkout", checkIn.AddDate(0, 0, nights).Format(models.ISODateLayout))
	q.Set("group_adults", "2")
	q.Set("no_rooms", "1")
	q.Set("group_children", "0")
	q.Set("selected_currency", currency)
	q.Set("lang", "en-gb")
	return canonical + "?" + q.Encode()
}

func (s *BookingSite) Selectors() Selectors {
	return Selectors{
		ListingReady: `[data-testid="property-card"]`,
		PropertyCard: `[data-testid="property-card"]`,
		CardTitle:    `[data-testid="title"]`,
		CardAddress:  `[data-testid="address"]`,
		CardLink:     `a[href]`,

		PropertyReady:   `[data-testid="property-page"], #hp_hotel_name, #hprt-table`,
		RoomsReady:      `[data-testid="property-room"], #hprt-table, [data-testid*="room"]`,
		RoomRow:         `[data-testid="property-room"], #hprt-table tr.js-rt-block-row`,
		RoomRowFallback: `[data-testid*="room"]:not([data-testid*="calendar"]):not([data-testid*="datepicker"])`,
		RowPrice:        `[data-testid="price-and-discounted-price"], .bui-price-display__value, .prco-valign-middle-helper`,

		BreakdownButton: `button`,
		BreakdownLabel:  `/Price|Breakdown|Preis|Detalle/i`,
		BreakdownTotal:  `[data-testid="price-summary-total-amount"]`,

		ConsentButton: `button`,
		ConsentLabel:  `/Accept|Akzeptieren|Aceptar|Accepter/i`,
	}
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (s *BookingSite) ClassifyRow(text string) models.RowVerdict {
	text = strings.ToLower(text)
	switch {
	case containsAny(text, s.singlePhrases):
		return models.VerdictSingle
	case containsAny(text, s.breakfastPhrases):
		return models.VerdictBreakfast
	default:
		return models.VerdictCandidate
	}
}

func (s *BookingSite) TaxInclusive(text string) bool {
	return containsAny(strings.ToLower(text), s.taxPhrases)
}

// MinStay returns the largest minimum-stay requirement stated in the text.
func (s *BookingSite) MinStay(text string) (int, bool) {
	text = strings.ToLower(text)
	best := 0
	for _, re := range s.minStayPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n > maxMinStayNights {
				continue
			}
			if n > best {
				best = n
			}
		}
	}
	return best, best > 0
}

func firstSubmatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// Tokens pulls the anti-forgery token, page name and country from the page
// source. Page name and country fall back to the property URL path.
func (s *BookingSite) Tokens(html, propertyURL string) (Tokens, error) {
	t := Tokens{
		CSRF:     firstSubmatch(s.csrfPatterns, html),
		PageName: firstSubmatch(s.pageNamePatterns, html),
		Country:  firstSubmatch(s.countryPatterns, html),
	}
	if t.PageName == "" || t.Country == "" {
		if cc, name, ok := propertyPathParts(propertyURL); ok {
			if t.PageName == "" {
				t.PageName = name
			}
			if t.Country == "" {
				t.Country = cc
			}
		}
	}
	if t.CSRF == "" || t.PageName == "" {
		return t, errMissingTokens
	}
	return t, nil
}

const availabilityCalendarQuery = `query AvailabilityCalendar($input: AvailabilityCalendarQueryInput!) {
  availabilityCalendar(input: $input) {
    ... on AvailabilityCalendarQueryResult {
      hotelId
      days { available avgPriceFormatted checkin minLengthOfStay __typename }
      __typename
    }
    ... on AvailabilityCalendarQueryError { message __typename }
    __typename
  }
}`

func (s *BookingSite) CalendarRequest(t Tokens, start time.Time, days int, currency string) CalendarRequest {
	input := map[string]interface{}{
		"travelPurpose": 2,
		"pagenameDetails": map[string]string{
			"countryCode": t.Country,
			"pagename":    t.PageName,
		},
		"searchConfig": map[string]interface{}{
			"searchConfigDate": map[string]interface{}{
				"startDate":    start.Format(models.ISODateLayout),
				"amountOfDays": days,
			},
			"nbAdults":     2,
			"nbRooms":      1,
			"nbChildren":   0,
			"childrenAges": []int{},
		},
	}
	return CalendarRequest{
		Path: "/dml/graphql",
		Query: map[string]string{
			"lang":              "en-gb",
			"selected_currency": currency,
		},
		Headers: map[string]string{
			"Content-Type":         "application/json",
			"X-Booking-Csrf-Token": t.CSRF,
		},
		Body: map[string]interface{}{
			"operationName": "AvailabilityCalendar",
			"variables":     map[string]interface{}{"input": input},
			"extensions":    map[string]interface{}{},
			"query":         availabilityCalendarQuery,
		},
	}
}

type calendarResponse struct {
	Data struct {
		AvailabilityCalendar struct {
			Message string `json:"message"`
			Days    []struct {
				Available         bool   `json:"available"`
				AvgPriceFormatted string `json:"avgPriceFormatted"`
				Checkin           string `json:"checkin"`
				MinLengthOfStay   int    `json:"minLengthOfStay"`
			} `json:"days"`
		} `json:"availabilityCalendar"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ParseCalendar decodes the calendar response. A well-formed response that
// carries only an error message yields no days.
func (s *BookingSite) ParseCalendar(body []byte) ([]CalendarDay, error) {
	var resp calendarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode availability calendar: %w", err)
	}
	days := make([]CalendarDay, 0, len(resp.Data.AvailabilityCalendar.Days))
	for _, d := range resp.Data.AvailabilityCalendar.Days {
		days = append(days, CalendarDay{
			Date:              d.Checkin,
			Available:         d.Available,
			AvgPriceFormatted: d.AvgPriceFormatted,
			MinLengthOfStay:   d.MinLengthOfStay,
		})
	}
	return days, nil
}
