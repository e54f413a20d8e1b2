package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ratecheck/models"
	"ratecheck/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// FallbackOptions configure the availability calendar client.
type FallbackOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BypassCloudflare  bool
	MinWindowDays     int
}

// FallbackQuery carries what the calendar call needs from the task and the
// browser session.
type FallbackQuery struct {
	HTML        string
	PropertyURL string
	CheckIn     time.Time
	Nights      int
	Currency    string
	Cookies     []*http.Cookie
	UserAgent   string
}

// Fallback prices a stay from the site's availability calendar when the
// rendered page yields no qualifying row.
type Fallback struct {
	site   Site
	http   *resty.Client
	opts   FallbackOptions
	logger *slog.Logger
}

func NewFallback(site Site, opts FallbackOptions, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinWindowDays <= 0 {
		opts.MinWindowDays = 7
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://" + site.CanonicalHost()
	}

	httpClient := resty.New()
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetBaseURL(opts.BaseURL)
	httpClient.SetHeader("Accept", "*/*")
	if opts.BypassCloudflare {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	// shared by every task so concurrent fallbacks stay polite
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, "ratecheck/fallback")

	return &Fallback{site: site, http: httpClient, opts: opts, logger: logger}
}

// Window is the number of calendar days requested for a stay.
func (f *Fallback) Window(nights int) int {
	return max(f.opts.MinWindowDays, nights+3)
}

// Quote queries the calendar and prices the check-in day. The calendar's
// minimum length of stay decides how many nights the total covers.
func (f *Fallback) Quote(ctx context.Context, q FallbackQuery) (models.Quote, error) {
	tokens, err := f.site.Tokens(q.HTML, q.PropertyURL)
	if err != nil {
		return models.Quote{}, models.FallbackFailure(models.ReasonTokensNotFound, err.Error())
	}

	creq := f.site.CalendarRequest(tokens, q.CheckIn, f.Window(q.Nights), q.Currency)
	req := f.http.R().
		SetContext(ctx).
		SetQueryParams(creq.Query).
		SetHeaders(creq.Headers).
		SetCookies(q.Cookies).
		SetBody(creq.Body)
	if q.UserAgent != "" {
		req.SetHeader("User-Agent", q.UserAgent)
	}

	resp, err := req.Post(creq.Path)
	if err != nil {
		if isTimeout(ctx, err) {
			return models.Quote{}, models.FallbackFailure(models.ReasonTimeout, err.Error())
		}
		return models.Quote{}, err
	}
	if !resp.IsSuccess() {
		return models.Quote{}, models.FallbackFailure(models.ReasonHTTPStatus(resp.StatusCode()), "availability calendar")
	}

	days, err := f.site.ParseCalendar(resp.Body())
	if err != nil {
		return models.Quote{}, models.FallbackFailure(models.ReasonDateNotInCalendar, err.Error())
	}
	return PriceFromCalendar(days, q.CheckIn.Format(models.ISODateLayout))
}

// PriceFromCalendar prices the given check-in day. Failures are reported in
// order: missing day, sold out, unparsable price.
func PriceFromCalendar(days []CalendarDay, checkIn string) (models.Quote, error) {
	var day *CalendarDay
	for i := range days {
		if days[i].Date == checkIn {
			day = &days[i]
			break
		}
	}
	if day == nil {
		return models.Quote{}, models.FallbackFailure(models.ReasonDateNotInCalendar, checkIn)
	}
	if !day.Available {
		return models.Quote{}, models.FallbackFailure(models.ReasonSoldOut, checkIn)
	}
	avg, ok := ParseMoney(day.AvgPriceFormatted, PolicyLast)
	if !ok || !avg.IsPositive() {
		return models.Quote{}, models.FallbackFailure(models.ReasonPriceNotFound, day.AvgPriceFormatted)
	}

	nights := max(day.MinLengthOfStay, 1)
	n := decimal.NewFromInt(int64(nights))
	total := avg.Mul(n).Round(2)
	return models.Quote{
		PerNight:       total.Div(n).Round(2),
		TotalForStay:   total,
		NightsQueried:  nights,
		MinStayApplied: nights > 1,
		Source:         models.SourceAPI,
	}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
