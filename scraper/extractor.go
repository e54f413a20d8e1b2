package scraper

import (
	"context"
	"log/slog"
	"time"

	"ratecheck/models"

	"github.com/shopspring/decimal"
)

// ExtractorOptions tune room-row extraction.
type ExtractorOptions struct {
	MaxRows          int
	RoomsTimeout     time.Duration
	BreakdownTimeout time.Duration
	PauseMin         time.Duration
	PauseMax         time.Duration
}

// Extraction is the cheapest qualifying offer found on a property page.
type Extraction struct {
	Total    decimal.Decimal
	PerNight decimal.Decimal
	Nights   int
	Rows     []models.RowDiagnostic
}

// Extractor picks the cheapest tax-inclusive, breakfast-excluded,
// non-single room from a loaded property page.
type Extractor struct {
	site   Site
	opts   ExtractorOptions
	logger *slog.Logger
}

func NewExtractor(site Site, opts ExtractorOptions, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 15
	}
	return &Extractor{site: site, opts: opts, logger: logger}
}

// Cheapest returns false when no row qualifies. Errors are reserved for
// conditions that abort the task, such as a cancelled context.
func (e *Extractor) Cheapest(ctx context.Context, sess Session, nights int, debug bool) (Extraction, bool, error) {
	if nights < 1 {
		nights = 1
	}
	sel := e.site.Selectors()
	out := Extraction{Nights: nights}
	note := func(d models.RowDiagnostic) {
		if debug {
			out.Rows = append(out.Rows, d)
		}
	}

	if err := sess.WaitFor(ctx, sel.RoomsReady, e.opts.RoomsTimeout); err != nil {
		if ctx.Err() != nil {
			return out, false, ctx.Err()
		}
		e.logger.Debug("room listing not rendered", "err", err)
	}

	rows, err := e.rows(ctx, sess, sel)
	if err != nil {
		return out, false, err
	}

	var best decimal.Decimal
	found := false
	for i, row := range rows {
		text, err := row.Text(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, false, ctx.Err()
			}
			note(models.RowDiagnostic{Index: i, Verdict: models.VerdictUnreadable, Note: err.Error()})
			continue
		}

		verdict := e.site.ClassifyRow(text)
		if verdict != models.VerdictCandidate {
			note(models.RowDiagnostic{Index: i, Verdict: verdict})
			continue
		}

		cells, _ := row.PriceTexts(ctx, sel.RowPrice)
		price, ok := cellPrice(cells)
		if !ok || !price.IsPositive() {
			note(models.RowDiagnostic{Index: i, Verdict: models.VerdictNoPrice})
			continue
		}

		inclusive := e.site.TaxInclusive(text)
		if !inclusive {
			total, err := e.breakdownTotal(ctx, row, sel)
			if err != nil {
				if ctx.Err() != nil {
					return out, false, ctx.Err()
				}
				note(models.RowDiagnostic{Index: i, Verdict: models.VerdictNoBreakdown, Price: price.String()})
				continue
			}
			price = total
		}

		note(models.RowDiagnostic{Index: i, Verdict: models.VerdictCandidate, Price: price.String(), Inclusive: inclusive})
		if !found || price.LessThan(best) {
			best, found = price, true
		}
	}

	if !found {
		return out, false, nil
	}
	out.Total = best
	out.PerNight = best.Div(decimal.NewFromInt(int64(nights))).Round(2)
	return out, true, nil
}

func (e *Extractor) rows(ctx context.Context, sess Session, sel Selectors) ([]RoomRow, error) {
	rows, err := sess.Rows(ctx, sel.RoomRow, e.opts.MaxRows)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(rows) > 0 {
		return rows, nil
	}
	rows, err = sess.Rows(ctx, sel.RoomRowFallback, e.opts.MaxRows)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Debug("room rows unavailable", "err", err)
		return nil, nil
	}
	return rows, nil
}

// cellPrice parses each price cell on its own and keeps the last one that
// holds an amount. Nested price elements repeat the same figure.
func cellPrice(cells []string) (decimal.Decimal, bool) {
	var price decimal.Decimal
	found := false
	for _, cell := range cells {
		if v, ok := ParseMoney(cell, PolicyLast); ok {
			price, found = v, true
		}
	}
	return price, found
}

func (e *Extractor) breakdownTotal(ctx context.Context, row RoomRow, sel Selectors) (decimal.Decimal, error) {
	if err := Jitter(ctx, e.opts.PauseMin, e.opts.PauseMax); err != nil {
		return decimal.Decimal{}, err
	}
	text, err := row.Breakdown(ctx, sel, e.opts.BreakdownTimeout)
	if err != nil {
		return decimal.Decimal{}, err
	}
	total, ok := ParseMoney(text, PolicyMax)
	if !ok || !total.IsPositive() {
		return decimal.Decimal{}, ErrNoBreakdown
	}
	return total, nil
}
