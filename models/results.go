package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrDuplicateResult = errors.New("result already recorded")

// ResultKey identifies one cell of the output table.
type ResultKey struct {
	Hotel string `json:"hotel"`
	Date  string `json:"date"`
}

// Outcome summarises a batch for the collaborator.
type Outcome string

const (
	OutcomeAll     Outcome = "all"
	OutcomePartial Outcome = "partial"
	OutcomeNone    Outcome = "none"
)

type Summary struct {
	Total   int     `json:"total"`
	OK      int     `json:"ok"`
	Outcome Outcome `json:"outcome"`
}

// Message renders the summary the way the results page reports it.
func (s Summary) Message() string {
	switch s.Outcome {
	case OutcomeAll:
		return fmt.Sprintf("All %d rates found.", s.Total)
	case OutcomePartial:
		return fmt.Sprintf("Partial results: %d of %d rates found.", s.OK, s.Total)
	default:
		return "No rates could be retrieved."
	}
}

// ResultTable collects one result per (hotel, date). Entries are insert-only.
type ResultTable struct {
	mu      sync.Mutex
	results map[ResultKey]RateResult
}

func NewResultTable() *ResultTable {
	return &ResultTable{results: make(map[ResultKey]RateResult)}
}

// Insert records a result, refusing to overwrite an existing key.
func (t *ResultTable) Insert(key ResultKey, r RateResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.results[key]; exists {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateResult, key.Hotel, key.Date)
	}
	t.results[key] = r
	return nil
}

func (t *ResultTable) Get(key ResultKey) (RateResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.results[key]
	return r, ok
}

func (t *ResultTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results)
}

// Keys returns every key ordered by date, then hotel.
func (t *ResultTable) Keys() []ResultKey {
	t.mu.Lock()
	keys := make([]ResultKey, 0, len(t.results))
	for k := range t.results {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		return keys[i].Hotel < keys[j].Hotel
	})
	return keys
}

func (t *ResultTable) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{Total: len(t.results)}
	for _, r := range t.results {
		if r.OK() {
			s.OK++
		}
	}
	switch {
	case s.Total > 0 && s.OK == s.Total:
		s.Outcome = OutcomeAll
	case s.OK > 0:
		s.Outcome = OutcomePartial
	default:
		s.Outcome = OutcomeNone
	}
	return s
}

// Entry is a flattened table row used for JSON output.
type Entry struct {
	ResultKey
	Result RateResult `json:"result"`
}

func (t *ResultTable) Entries() []Entry {
	keys := t.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		r, _ := t.Get(k)
		out = append(out, Entry{ResultKey: k, Result: r})
	}
	return out
}
