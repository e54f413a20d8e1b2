package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"ratecheck/models"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const systemChromium = "/usr/bin/chromium-browser"

// BrowserOptions configures the shared browser and its sessions.
type BrowserOptions struct {
	Bin               string
	Headless          bool
	NavigationTimeout time.Duration
	ConsentTimeout    time.Duration
	Identities        []Identity
}

// DefaultIdentities is the fingerprint pool sessions draw from.
var DefaultIdentities = []Identity{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en;q=0.9",
		Locale:         "en-GB",
		Platform:       "Win32",
		ViewportWidth:  1366,
		ViewportHeight: 900,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en-US;q=0.9,en;q=0.8",
		Locale:         "en-GB",
		Platform:       "MacIntel",
		ViewportWidth:  1440,
		ViewportHeight: 900,
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en;q=0.8",
		Locale:         "en-GB",
		Platform:       "Linux x86_64",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	},
}

// RodSessions launches one headless browser and gives every task its own
// incognito context, so no cookies or storage leak between tasks.
type RodSessions struct {
	browser *rod.Browser
	opts    BrowserOptions
	consent Selectors
	logger  *slog.Logger
}

// NewRodSessions launches the browser. Prefer the system Chromium in
// containers and fall back to rod's auto-detection locally.
func NewRodSessions(opts BrowserOptions, site Site, logger *slog.Logger) (*RodSessions, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Identities) == 0 {
		opts.Identities = DefaultIdentities
	}

	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(true).
		Leakless(false).
		Set("disable-blink-features", "AutomationControlled")

	switch {
	case opts.Bin != "":
		l = l.Bin(opts.Bin)
	default:
		if _, err := os.Stat(systemChromium); err == nil {
			l = l.Bin(systemChromium)
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("browser ready", "control_url", controlURL, "site", site.Version())

	return &RodSessions{
		browser: browser,
		opts:    opts,
		consent: site.Selectors(),
		logger:  logger,
	}, nil
}

// Close shuts the browser down.
func (m *RodSessions) Close() error {
	return m.browser.Close()
}

func (m *RodSessions) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incognito, err := m.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	s := &rodSession{
		incognito: incognito,
		page:      page,
		identity:  m.opts.Identities[rand.IntN(len(m.opts.Identities))],
		opts:      m.opts,
		consent:   m.consent,
		logger:    m.logger,
	}
	if err := s.prepare(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type rodSession struct {
	incognito *rod.Browser
	page      *rod.Page
	identity  Identity
	opts      BrowserOptions
	consent   Selectors
	logger    *slog.Logger

	consentHandled bool
}

func (s *rodSession) prepare() error {
	id := s.identity
	err := s.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      id.UserAgent,
		AcceptLanguage: id.AcceptLanguage,
		Platform:       id.Platform,
	})
	if err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: id.Locale}).Call(s.page); err != nil {
		s.logger.Debug("locale override rejected", "locale", id.Locale, "err", err)
	}
	err = s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             id.ViewportWidth,
		Height:            id.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if _, err := s.page.EvalOnNewDocument(stealthScript(id)); err != nil {
		return fmt.Errorf("install stealth script: %w", err)
	}
	return nil
}

func stealthScript(id Identity) string {
	lang := strings.SplitN(id.AcceptLanguage, ",", 2)[0]
	return fmt.Sprintf(`
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
		Object.defineProperty(navigator, 'languages', { get: () => [%q, 'en'] });
		Object.defineProperty(navigator, 'platform', { get: () => %q });
		window.chrome = { runtime: {} };
	`, lang, id.Platform)
}

func (s *rodSession) Identity() Identity { return s.identity }

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		if navCtx.Err() != nil || strings.Contains(err.Error(), "ERR_TIMED_OUT") {
			return models.FetchFailure(models.ReasonTimeout, url)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	if navCtx.Err() != nil {
		return models.FetchFailure(models.ReasonTimeout, url)
	}

	if status := s.responseStatus(p); status >= 400 {
		return models.FetchFailure(models.ReasonHTTPStatus(status), url)
	}

	if !s.consentHandled {
		s.consentHandled = true
		s.dismissConsent(ctx)
	}
	return nil
}

// responseStatus reads the main document status from the navigation timing
// entry. Zero means unknown.
func (s *rodSession) responseStatus(p *rod.Page) int {
	res, err := p.Eval(`() => {
		const e = performance.getEntriesByType('navigation')[0];
		return e && e.responseStatus ? e.responseStatus : 0;
	}`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func (s *rodSession) dismissConsent(ctx context.Context) {
	if s.opts.ConsentTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConsentTimeout)
	defer cancel()

	btn, err := s.page.Context(ctx).ElementR(s.consent.ConsentButton, s.consent.ConsentLabel)
	if err != nil {
		return
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		s.logger.Debug("cookie consent click failed", "err", err)
	}
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := s.page.Context(ctx).Element(selector); err != nil {
		if ctx.Err() != nil {
			return models.FetchFailure(models.ReasonTimeout, "waiting for "+selector)
		}
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) Title(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (s *rodSession) Rows(ctx context.Context, selector string, limit int) ([]RoomRow, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", selector, err)
	}
	if limit > 0 && len(els) > limit {
		els = els[:limit]
	}
	rows := make([]RoomRow, len(els))
	for i, el := range els {
		rows[i] = &rodRow{el: el, page: s.page}
	}
	return rows, nil
}

func (s *rodSession) Cookies(ctx context.Context, url string) ([]*http.Cookie, error) {
	cookies, err := s.page.Context(ctx).Cookies([]string{url})
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

// Close releases the page and its browser context.
func (s *rodSession) Close() error {
	return errors.Join(s.page.Close(), s.incognito.Close())
}

type rodRow struct {
	el   *rod.Element
	page *rod.Page
}

func (r *rodRow) Text(ctx context.Context) (string, error) {
	return r.el.Context(ctx).Text()
}

func (r *rodRow) PriceTexts(ctx context.Context, selector string) ([]string, error) {
	els, err := r.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}

func (r *rodRow) Breakdown(ctx context.Context, sel Selectors, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	btn, err := r.el.Context(ctx).ElementR(sel.BreakdownButton, sel.BreakdownLabel)
	if err != nil {
		return "", ErrNoBreakdown
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", ErrNoBreakdown
	}
	defer func() { _ = r.page.Keyboard.Press(input.Escape) }()

	total, err := r.page.Context(ctx).Element(sel.BreakdownTotal)
	if err != nil {
		return "", ErrNoBreakdown
	}
	text, err := total.Text()
	if err != nil {
		return "", ErrNoBreakdown
	}
	return text, nil
}
