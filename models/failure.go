package models

import (
	"fmt"
	"strconv"
)

// FailureKind groups reasons by the pipeline stage that produced them.
type FailureKind string

const (
	KindResolution FailureKind = "resolution"
	KindFetch      FailureKind = "fetch"
	KindExtraction FailureKind = "extraction"
	KindFallback   FailureKind = "fallback"
	KindUnexpected FailureKind = "unexpected"
)

// Reason is the machine-readable cause carried by a NOT_FOUND result.
type Reason string

const (
	ReasonNoListing         Reason = "no_listing"
	ReasonNoURL             Reason = "no_url"
	ReasonTimeout           Reason = "timeout"
	ReasonBlocked           Reason = "blocked"
	ReasonNoValidRow        Reason = "no_valid_row"
	ReasonTokensNotFound    Reason = "tokens_not_found"
	ReasonDateNotInCalendar Reason = "date_not_in_calendar"
	ReasonSoldOut           Reason = "sold_out"
	ReasonPriceNotFound     Reason = "price_not_found"
	ReasonUnexpected        Reason = "unexpected"
)

// ReasonHTTPStatus builds the http_<status> reason for a failed fetch.
func ReasonHTTPStatus(code int) Reason {
	return Reason("http_" + strconv.Itoa(code))
}

// Failure is the error every pipeline stage returns for an expected,
// classified outcome. Anything else reaching the task boundary is unexpected.
type Failure struct {
	Kind   FailureKind
	Reason Reason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s failure: %s", f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s failure: %s (%s)", f.Kind, f.Reason, f.Detail)
}

// Fail constructs a classified failure.
func Fail(kind FailureKind, reason Reason, detail string) *Failure {
	return &Failure{Kind: kind, Reason: reason, Detail: detail}
}

func ResolutionFailure(reason Reason, detail string) *Failure {
	return Fail(KindResolution, reason, detail)
}

func FetchFailure(reason Reason, detail string) *Failure {
	return Fail(KindFetch, reason, detail)
}

func ExtractionFailure(reason Reason, detail string) *Failure {
	return Fail(KindExtraction, reason, detail)
}

func FallbackFailure(reason Reason, detail string) *Failure {
	return Fail(KindFallback, reason, detail)
}

func UnexpectedFailure(detail string) *Failure {
	return Fail(KindUnexpected, ReasonUnexpected, detail)
}
