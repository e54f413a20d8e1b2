package scraper

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoBreakdown is returned when a row has no usable price breakdown.
var ErrNoBreakdown = errors.New("price breakdown unavailable")

// Identity is the browser fingerprint a session presents.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
	Platform       string
	ViewportWidth  int
	ViewportHeight int
}

// SessionManager hands out isolated browser sessions, one per task.
type SessionManager interface {
	Acquire(ctx context.Context) (Session, error)
}

// Session is one isolated browsing context. Navigation returns a
// *models.Failure of kind fetch for HTTP errors and timeouts.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Rows(ctx context.Context, selector string, limit int) ([]RoomRow, error)
	Cookies(ctx context.Context, url string) ([]*http.Cookie, error)
	Identity() Identity
	Close() error
}

// RoomRow is one room offer on a property page.
type RoomRow interface {
	Text(ctx context.Context) (string, error)
	PriceTexts(ctx context.Context, selector string) ([]string, error)
	// Breakdown opens the row's price breakdown, returns the total text and
	// closes it again. ErrNoBreakdown means the row offers none.
	Breakdown(ctx context.Context, sel Selectors, timeout time.Duration) (string, error)
}
