package scraper

import (
	"net/url"
	"testing"
	"time"

	"ratecheck/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingClassifyRow(t *testing.T) {
	site := NewBookingSite("")
	tests := []struct {
		text string
		want models.RowVerdict
	}{
		{"Single Room\n1 single bed", models.VerdictSingle},
		{"Einzelzimmer mit Dusche", models.VerdictSingle},
		{"Double Room\nBreakfast included in the price", models.VerdictBreakfast},
		{"Doppelzimmer mit Frühstück", models.VerdictBreakfast},
		{"Camera Doppia - colazione inclusa", models.VerdictBreakfast},
		{"Superior Double Room\nBreakfast €25 (optional)", models.VerdictCandidate},
		{"Deluxe King Room", models.VerdictCandidate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, site.ClassifyRow(tt.text), tt.text)
	}
}

func TestBookingTaxInclusive(t *testing.T) {
	site := NewBookingSite("")
	assert.True(t, site.TaxInclusive("€ 217\nIncludes taxes and charges"))
	assert.True(t, site.TaxInclusive("Inklusive Steuern und Gebühren"))
	assert.True(t, site.TaxInclusive("Tasse e oneri inclusi"))
	assert.False(t, site.TaxInclusive("+€ 31 taxes and charges"))
}

func TestBookingMinStay(t *testing.T) {
	site := NewBookingSite("")
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"This property requires a minimum stay of 3 nights for your dates.", 3, true},
		{"Minimum length of stay: 2 nights", 2, true},
		{"Min. 4 nights", 4, true},
		{"Mindestaufenthalt von 5 Nächten", 5, true},
		{"Soggiorno minimo di 3 notti", 3, true},
		{"Séjour minimum de 2 nuits", 2, true},
		{"Estancia mínima de 6 noches", 6, true},
		{"Located 5 min walk from the station. Guests loved their 2 nights.", 0, false},
		{"Check-in from 15:00", 0, false},
	}
	for _, tt := range tests {
		n, ok := site.MinStay(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, n, tt.text)
	}
}

func TestDetectMinStayOnlyWhenLonger(t *testing.T) {
	site := NewBookingSite("")
	html := `<html><body><p>A minimum stay of 3 nights applies.</p><script>var minimum = "9 nights";</script></body></html>`

	n, ok := DetectMinStay(site, html, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, n, "script content is not visible text")

	n, ok = DetectMinStay(site, html, 3)
	assert.False(t, ok)
	assert.Equal(t, 3, n)
}

func TestBookingPropertyURL(t *testing.T) {
	site := NewBookingSite("")
	checkIn := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)
	raw := site.PropertyURL("https://www.booking.com/hotel/de/x.html", checkIn, 3, "EUR")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "2025-03-30", q.Get("checkin"))
	assert.Equal(t, "2025-04-02", q.Get("checkout"))
	assert.Equal(t, "2", q.Get("group_adults"))
	assert.Equal(t, "1", q.Get("no_rooms"))
	assert.Equal(t, "0", q.Get("group_children"))
	assert.Equal(t, "EUR", q.Get("selected_currency"))
}

func TestBookingTokens(t *testing.T) {
	site := NewBookingSite("")
	html := `<script>b_csrf_token: 'tok-1', b_hotel_cc1: 'it'</script>`

	tokens, err := site.Tokens(html, "https://www.booking.com/hotel/it/colosseo-inn.en-gb.html")
	require.NoError(t, err)
	assert.Equal(t, Tokens{CSRF: "tok-1", PageName: "colosseo-inn", Country: "it"}, tokens)

	tokens, err = site.Tokens(`{"hotel_page_name":"embedded-name","b_csrf_token":"tok-2"}`, "https://www.booking.com/hotel/fr/other.html")
	require.NoError(t, err)
	assert.Equal(t, "embedded-name", tokens.PageName)
	assert.Equal(t, "fr", tokens.Country)

	_, err = site.Tokens(`<p>nothing here</p>`, "https://www.booking.com/hotel/it/x.html")
	assert.Error(t, err)
}

func TestBookingParseCalendar(t *testing.T) {
	site := NewBookingSite("")
	body := []byte(`{"data":{"availabilityCalendar":{"days":[
		{"checkin":"2025-03-04","available":true,"avgPriceFormatted":"€ 217","minLengthOfStay":1},
		{"checkin":"2025-03-05","available":false,"avgPriceFormatted":"","minLengthOfStay":2}
	]}}}`)

	days, err := site.ParseCalendar(body)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, CalendarDay{Date: "2025-03-04", Available: true, AvgPriceFormatted: "€ 217", MinLengthOfStay: 1}, days[0])

	_, err = site.ParseCalendar([]byte(`<html>`))
	assert.Error(t, err)
}
