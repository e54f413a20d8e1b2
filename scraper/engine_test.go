package scraper_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"ratecheck/models"
	"ratecheck/scraper"
	"ratecheck/scraper/scrapertest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	site     *scraper.BookingSite
	browser  *scrapertest.Browser
	calendar *scrapertest.CalendarServer
	cfg      scraper.EngineConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	site := scraper.NewBookingSite("")
	cal := scrapertest.NewCalendarServer()
	t.Cleanup(cal.Close)
	return &harness{
		site:     site,
		browser:  scrapertest.NewBrowser(site),
		calendar: cal,
		cfg:      scrapertest.FastConfig(cal.URL),
	}
}

func (h *harness) engine() *scraper.Engine {
	return scraper.NewEngine(h.browser, h.site, h.cfg, nil)
}

var checkIn = models.NewDateQuery(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC))

func (h *harness) property(canonical string, nights int, p *scrapertest.Page) {
	h.browser.Handle(h.site.PropertyURL(canonical, checkIn.CheckIn, nights, "EUR"), p)
}

func task(name, url string) models.Task {
	return models.Task{
		Hotel:    models.HotelDescriptor{Name: name, DirectURL: url},
		Date:     checkIn,
		Currency: "EUR",
	}
}

func mixedRows() []scrapertest.Row {
	return []scrapertest.Row{
		{Label: "Single Room\nIncludes taxes and charges", Prices: []string{"€ 50"}},
		{Label: "Double Room\nBreakfast included\nIncludes taxes and charges", Prices: []string{"€ 60"}},
		{Label: "Deluxe Double Room\nIncludes taxes and charges", Prices: []string{"€ 150 € 120"}},
		{Label: "Twin Room\n+€ 12 taxes and charges", Prices: []string{"€ 110"}, BreakdownTotal: "Room 110 € Taxes 12 € Total 122 €"},
		{Label: "Budget Double\n+€ 9 taxes and charges", Prices: []string{"€ 90"}},
	}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestEngineSelectsCheapestQualifyingRow(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{HTML: scrapertest.PropertyHTML("Adlon", false), Rows: mixedRows()})

	r := h.engine().Run(context.Background(), task("Adlon", "http://m.booking.com/hotel/de/adlon.html?aid=7#rooms"))

	require.Equal(t, models.StatusOK, r.Status(), r.Detail())
	q, _ := r.Quote()
	requireDecimal(t, "120", q.PerNight)
	requireDecimal(t, "120", q.TotalForStay)
	assert.Equal(t, 1, q.NightsQueried)
	assert.False(t, q.MinStayApplied)
	assert.Equal(t, models.SourceDOM, q.Source)
	assert.Empty(t, r.Diagnostics())
	assert.Equal(t, 0, h.browser.Active())
}

func TestEngineDebugDoesNotChangeSelection(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{HTML: scrapertest.PropertyHTML("Adlon", false), Rows: mixedRows()})

	tk := task("Adlon", adlonURL)
	tk.Debug = true
	r := h.engine().Run(context.Background(), tk)

	per, ok := r.PerNight()
	require.True(t, ok)
	requireDecimal(t, "120", per)

	verdicts := make([]models.RowVerdict, 0)
	for _, d := range r.Diagnostics() {
		verdicts = append(verdicts, d.Verdict)
	}
	assert.Equal(t, []models.RowVerdict{
		models.VerdictSingle,
		models.VerdictBreakfast,
		models.VerdictCandidate,
		models.VerdictCandidate,
		models.VerdictNoBreakdown,
	}, verdicts)
	assert.Equal(t, "122", r.Diagnostics()[3].Price)
}

func TestEngineFallbackRowSelector(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML:         scrapertest.PropertyHTML("Adlon", false),
		FallbackRows: []scrapertest.Row{{Label: "Queen Room\nIncludes taxes and charges", Prices: []string{"€ 99"}}},
	})

	r := h.engine().Run(context.Background(), task("Adlon", adlonURL))
	per, ok := r.PerNight()
	require.True(t, ok)
	requireDecimal(t, "99", per)
}

func TestEngineParsesPriceCellsSeparately(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML("Adlon", false),
		Rows: []scrapertest.Row{
			{Label: "Double Room\nIncludes taxes and charges", Prices: []string{"€ 150", "135"}},
			{Label: "Superior Double Room\nIncludes taxes and charges", Prices: []string{"120", "120"}},
		},
	})

	tk := task("Adlon", adlonURL)
	tk.Debug = true
	r := h.engine().Run(context.Background(), tk)

	per, ok := r.PerNight()
	require.True(t, ok, r.Detail())
	requireDecimal(t, "120", per)
	require.Len(t, r.Diagnostics(), 2)
	assert.Equal(t, "135", r.Diagnostics()[0].Price)
	assert.Equal(t, "120", r.Diagnostics()[1].Price)
}

func TestEngineMinStayRequery(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML(`<div class="notice">This property requires a minimum stay of 3 nights.</div>`, false),
	})
	h.property(adlonURL, 3, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML("Adlon", false),
		Rows: []scrapertest.Row{{Label: "Double Room\nIncludes taxes and charges", Prices: []string{"€ 360"}}},
	})

	r := h.engine().Run(context.Background(), task("Adlon", adlonURL))

	require.True(t, r.OK(), r.Detail())
	q, _ := r.Quote()
	assert.Equal(t, 3, q.NightsQueried)
	assert.True(t, q.MinStayApplied)
	requireDecimal(t, "360", q.TotalForStay)
	requireDecimal(t, "120", q.PerNight)
}

func TestEngineResolvesByName(t *testing.T) {
	h := newHarness(t)
	tk := task("Adlon Kempinski", "")
	tk.Hotel.City = "Berlin"

	h.browser.Handle(h.site.SearchURL("Adlon Kempinski Berlin"), &scrapertest.Page{HTML: scrapertest.SearchHTML(
		scrapertest.Card{Title: "Adlon Apartments", Address: "Potsdam", Href: "/hotel/de/adlon-apartments.html"},
		scrapertest.Card{Title: "Hotel Adlon Kempinski Berlin", Address: "Mitte, Berlin", Href: "https://www.booking.com/hotel/de/adlon.html?aid=1"},
	)})
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML("Adlon", false),
		Rows: []scrapertest.Row{{Label: "Double Room\nIncludes taxes and charges", Prices: []string{"€ 410"}}},
	})

	r := h.engine().Run(context.Background(), tk)
	require.True(t, r.OK(), r.Detail())
	per, _ := r.PerNight()
	requireDecimal(t, "410", per)
	assert.Equal(t, h.site.SearchURL("Adlon Kempinski Berlin"), h.browser.Visited()[0])
}

func TestEngineFallsBackToCalendar(t *testing.T) {
	h := newHarness(t)
	h.calendar.Days = []scrapertest.CalendarDay{
		{Checkin: "2025-03-04", Available: true, AvgPriceFormatted: "€ 175", MinLengthOfStay: 2},
	}
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML("Adlon", true),
		Rows: []scrapertest.Row{{Label: "Single Room", Prices: []string{"€ 80"}}},
	})

	r := h.engine().Run(context.Background(), task("Adlon", adlonURL))
	require.True(t, r.OK(), r.Detail())
	q, _ := r.Quote()
	assert.Equal(t, models.SourceAPI, q.Source)
	assert.Equal(t, 2, q.NightsQueried)
	assert.True(t, q.MinStayApplied)
	requireDecimal(t, "350", q.TotalForStay)
	requireDecimal(t, "175", q.PerNight)
}

func TestEngineFailureReasons(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness) models.Task
		want  models.Reason
	}{
		{
			name: "listing never renders",
			setup: func(h *harness) models.Task {
				h.browser.Handle(h.site.SearchURL("Ghost"), &scrapertest.Page{Unrendered: true})
				return task("Ghost", "")
			},
			want: models.ReasonNoListing,
		},
		{
			name: "no candidates",
			setup: func(h *harness) models.Task {
				h.browser.Handle(h.site.SearchURL("Ghost"), &scrapertest.Page{HTML: scrapertest.SearchHTML()})
				return task("Ghost", "")
			},
			want: models.ReasonNoURL,
		},
		{
			name: "foreign direct url",
			setup: func(h *harness) models.Task {
				return task("Elsewhere", "https://www.example.com/hotel/x.html")
			},
			want: models.ReasonNoURL,
		},
		{
			name: "server error",
			setup: func(h *harness) models.Task {
				h.property(adlonURL, 1, &scrapertest.Page{Status: 503})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonHTTPStatus(503),
		},
		{
			name: "navigation timeout",
			setup: func(h *harness) models.Task {
				h.property(adlonURL, 1, &scrapertest.Page{Timeout: true})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonTimeout,
		},
		{
			name: "challenge page",
			setup: func(h *harness) models.Task {
				h.property(adlonURL, 1, &scrapertest.Page{
					Unrendered: true,
					Title:      "Security check",
					HTML:       "<html><body>Please verify you are human. Complete the captcha.</body></html>",
				})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonBlocked,
		},
		{
			name: "no tokens for fallback",
			setup: func(h *harness) models.Task {
				h.property(adlonURL, 1, &scrapertest.Page{HTML: scrapertest.PropertyHTML("", false)})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonTokensNotFound,
		},
		{
			name: "sold out",
			setup: func(h *harness) models.Task {
				h.calendar.Days = []scrapertest.CalendarDay{{Checkin: "2025-03-04", Available: false}}
				h.property(adlonURL, 1, &scrapertest.Page{HTML: scrapertest.PropertyHTML("", true)})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonSoldOut,
		},
		{
			name: "fallback disabled",
			setup: func(h *harness) models.Task {
				h.cfg.FallbackEnabled = false
				h.property(adlonURL, 1, &scrapertest.Page{HTML: scrapertest.PropertyHTML("", true)})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonNoValidRow,
		},
		{
			name: "panic inside a stage",
			setup: func(h *harness) models.Task {
				h.property(adlonURL, 1, &scrapertest.Page{Panic: true})
				return task("Adlon", adlonURL)
			},
			want: models.ReasonUnexpected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tk := tt.setup(h)
			r := h.engine().Run(context.Background(), tk)

			assert.Equal(t, models.StatusNotFound, r.Status())
			assert.Equal(t, tt.want, r.Reason())
			assert.Equal(t, "EUR", r.Currency())
			assert.Equal(t, 0, h.browser.Active(), "session must be released")
		})
	}
}

func TestEngineBlockedDetailNamesBlockType(t *testing.T) {
	h := newHarness(t)
	h.property(adlonURL, 1, &scrapertest.Page{
		Unrendered: true,
		Title:      "Security check",
		HTML:       "<html><body>Please verify you are human. Complete the captcha.</body></html>",
	})

	r := h.engine().Run(context.Background(), task("Adlon", adlonURL))
	require.Equal(t, models.ReasonBlocked, r.Reason())
	assert.True(t, strings.HasPrefix(r.Detail(), "captcha: "), r.Detail())
}

func TestEngineIgnoresCaptchaFooterOnPropertyPage(t *testing.T) {
	h := newHarness(t)
	body := strings.Repeat("<p>Spacious rooms with views over the Brandenburg Gate.</p>\n", 30) +
		"<footer>This site is protected by reCAPTCHA.</footer>"
	h.property(adlonURL, 1, &scrapertest.Page{
		HTML: scrapertest.PropertyHTML(body, false),
		Rows: []scrapertest.Row{{Label: "Double Room\nIncludes taxes and charges", Prices: []string{"€ 240"}}},
	})

	r := h.engine().Run(context.Background(), task("Adlon", adlonURL))
	per, ok := r.PerNight()
	require.True(t, ok, r.Detail())
	requireDecimal(t, "240", per)
}

func TestEngineCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := h.engine().Run(ctx, task("Adlon", adlonURL))
	assert.Equal(t, models.ReasonUnexpected, r.Reason())
}
