package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOK       Status = "OK"
	StatusNotFound Status = "NOT_FOUND"
)

// Source records which path produced a quote.
type Source string

const (
	SourceDOM Source = "dom"
	SourceAPI Source = "api"
)

// Quote is a priced stay.
type Quote struct {
	PerNight       decimal.Decimal
	TotalForStay   decimal.Decimal
	NightsQueried  int
	MinStayApplied bool
	Source         Source
}

// RowVerdict is the extractor's decision for one room row.
type RowVerdict string

const (
	VerdictCandidate   RowVerdict = "candidate"
	VerdictSingle      RowVerdict = "single_room"
	VerdictBreakfast   RowVerdict = "breakfast_included"
	VerdictNoPrice     RowVerdict = "no_price"
	VerdictNoBreakdown RowVerdict = "tax_total_missing"
	VerdictUnreadable  RowVerdict = "unreadable"
)

// RowDiagnostic is debug-only detail about one inspected room row.
type RowDiagnostic struct {
	Index     int        `json:"index"`
	Verdict   RowVerdict `json:"verdict"`
	Price     string     `json:"price,omitempty"`
	Inclusive bool       `json:"tax_inclusive"`
	Note      string     `json:"note,omitempty"`
}

// RateResult is either OK with a quote or NOT_FOUND with a reason.
// Values are built with NewOK or NewNotFound and never change afterwards.
type RateResult struct {
	status      Status
	quote       Quote
	nights      int
	currency    string
	reason      Reason
	detail      string
	diagnostics []RowDiagnostic
}

func NewOK(q Quote, currency string) RateResult {
	if q.NightsQueried < 1 {
		q.NightsQueried = 1
	}
	return RateResult{
		status:   StatusOK,
		quote:    q,
		nights:   q.NightsQueried,
		currency: currency,
	}
}

func NewNotFound(reason Reason, detail string, nights int, currency string) RateResult {
	if reason == "" {
		reason = ReasonUnexpected
	}
	if nights < 1 {
		nights = 1
	}
	return RateResult{
		status:   StatusNotFound,
		nights:   nights,
		currency: currency,
		reason:   reason,
		detail:   detail,
	}
}

// NotFoundFrom converts a classified failure into a result.
func NotFoundFrom(f *Failure, nights int, currency string) RateResult {
	return NewNotFound(f.Reason, f.Detail, nights, currency)
}

// WithDiagnostics returns a copy carrying per-row debug detail.
func (r RateResult) WithDiagnostics(rows []RowDiagnostic) RateResult {
	r.diagnostics = append([]RowDiagnostic(nil), rows...)
	return r
}

func (r RateResult) Status() Status { return r.status }
func (r RateResult) OK() bool { return r.status == StatusOK }
func (r RateResult) Currency() string { return r.currency }
func (r RateResult) Reason() Reason { return r.reason }
func (r RateResult) Detail() string { return r.detail }
func (r RateResult) NightsQueried() int {
	return r.nights
}

// Quote returns the priced stay; ok is false for NOT_FOUND.
func (r RateResult) Quote() (Quote, bool) {
	return r.quote, r.status == StatusOK
}

func (r RateResult) PerNight() (decimal.Decimal, bool) {
	return r.quote.PerNight, r.status == StatusOK
}

func (r RateResult) MinStayApplied() bool {
	return r.status == StatusOK && r.quote.MinStayApplied
}

func (r RateResult) Diagnostics() []RowDiagnostic {
	return r.diagnostics
}

func (r RateResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Status         Status           `json:"status"`
		PerNight       *decimal.Decimal `json:"per_night,omitempty"`
		TotalForStay   *decimal.Decimal `json:"total_for_stay,omitempty"`
		NightsQueried  int              `json:"nights_queried"`
		MinStayApplied bool             `json:"minstay_applied"`
		Currency       string           `json:"currency"`
		Source         Source           `json:"source,omitempty"`
		Reason         Reason           `json:"reason,omitempty"`
		Detail         string           `json:"detail,omitempty"`
		Diagnostics    []RowDiagnostic  `json:"diagnostics,omitempty"`
	}{
		Status:         r.status,
		NightsQueried:  r.nights,
		MinStayApplied: r.MinStayApplied(),
		Currency:       r.currency,
		Reason:         r.reason,
		Detail:         r.detail,
		Diagnostics:    r.diagnostics,
	}
	if r.status == StatusOK {
		perNight, total := r.quote.PerNight, r.quote.TotalForStay
		out.PerNight = &perNight
		out.TotalForStay = &total
		out.Source = r.quote.Source
	}
	return json.Marshal(out)
}
