// Package scrapertest provides an in-memory browser for exercising the rate
// engine without Chrome.
package scrapertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ratecheck/models"
	"ratecheck/scraper"
)

// Row is a scripted room row.
type Row struct {
	Label  string
	Prices []string
	// BreakdownTotal is the text of the breakdown total; empty means the row
	// has no breakdown control.
	BreakdownTotal string
}

func (r Row) Text(ctx context.Context) (string, error) {
	return r.Label, ctx.Err()
}

func (r Row) PriceTexts(ctx context.Context, _ string) ([]string, error) {
	return r.Prices, ctx.Err()
}

func (r Row) Breakdown(ctx context.Context, _ scraper.Selectors, _ time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.BreakdownTotal == "" {
		return "", scraper.ErrNoBreakdown
	}
	return r.BreakdownTotal, nil
}

// Page is a scripted response to one URL.
type Page struct {
	Status       int
	Timeout      bool
	Unrendered   bool
	Panic        bool
	Title        string
	HTML         string
	Rows         []Row
	FallbackRows []Row
}

// Browser is a SessionManager serving scripted pages by exact URL.
type Browser struct {
	site scraper.Site

	// NavDelay is slept on every navigation to let sessions overlap.
	NavDelay time.Duration

	mu        sync.Mutex
	pages     map[string]*Page
	visited   []string
	active    int
	maxActive int
	acquired  int
}

func NewBrowser(site scraper.Site) *Browser {
	return &Browser{site: site, pages: make(map[string]*Page)}
}

// Handle registers the page served for url.
func (b *Browser) Handle(url string, p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = p
}

func (b *Browser) Acquire(ctx context.Context) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.acquired++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	return &session{b: b}, nil
}

// MaxActive is the highest number of sessions open at once.
func (b *Browser) MaxActive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxActive
}

// Active is the number of sessions not yet closed.
func (b *Browser) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Browser) Acquired() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquired
}

// Visited lists navigated URLs in order.
func (b *Browser) Visited() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.visited...)
}

func (b *Browser) lookup(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visited = append(b.visited, url)
	return b.pages[url]
}

type session struct {
	b       *Browser
	current *Page
	closed  bool
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if s.b.NavDelay > 0 {
		if err := scraper.Jitter(ctx, s.b.NavDelay, s.b.NavDelay); err != nil {
			return err
		}
	}
	page := s.b.lookup(url)
	switch {
	case page == nil:
		return models.FetchFailure(models.ReasonHTTPStatus(http.StatusNotFound), url)
	case page.Panic:
		panic("scripted page panic: " + url)
	case page.Timeout:
		return models.FetchFailure(models.ReasonTimeout, url)
	case page.Status >= 400:
		return models.FetchFailure(models.ReasonHTTPStatus(page.Status), url)
	}
	s.current = page
	return nil
}

func (s *session) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.current == nil {
		return fmt.Errorf("no page loaded")
	}
	if s.current.Unrendered {
		return models.FetchFailure(models.ReasonTimeout, "waiting for "+selector)
	}
	return nil
}

func (s *session) HTML(context.Context) (string, error) {
	if s.current == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return s.current.HTML, nil
}

func (s *session) Title(context.Context) (string, error) {
	if s.current == nil {
		return "", nil
	}
	return s.current.Title, nil
}

func (s *session) Rows(_ context.Context, selector string, limit int) ([]scraper.RoomRow, error) {
	if s.current == nil {
		return nil, nil
	}
	src := s.current.Rows
	if selector == s.b.site.Selectors().RoomRowFallback {
		src = s.current.FallbackRows
	}
	if limit > 0 && len(src) > limit {
		src = src[:limit]
	}
	rows := make([]scraper.RoomRow, len(src))
	for i, r := range src {
		rows[i] = r
	}
	return rows, nil
}

func (s *session) Cookies(context.Context, string) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "bkng", Value: "scripted"}}, nil
}

func (s *session) Identity() scraper.Identity {
	return scraper.DefaultIdentities[0]
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.active--
	}
	return nil
}
