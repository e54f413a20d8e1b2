package scraper

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// VisibleText returns the human-readable text of an HTML document with
// scripts, styles and templates removed and whitespace collapsed.
func VisibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Jitter sleeps for a uniformly random duration in [min, max], returning
// early with the context error if ctx ends first.
func Jitter(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return ctx.Err()
	}
	d := min
	if max > min {
		d += rand.N(max - min + 1)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
