package models

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
)

const (
	ISODateLayout     = "2006-01-02"
	DisplayDateLayout = "02.01.2006"
)

// ParseDate accepts dd.mm.yyyy and yyyy-mm-dd.
func ParseDate(s string) (DateQuery, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DisplayDateLayout, ISODateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDateQuery(t), nil
		}
	}
	return DateQuery{}, fmt.Errorf("invalid date %q: expected dd.mm.yyyy or yyyy-mm-dd", s)
}

// ParseDates parses one date per entry, skipping blanks. Invalid entries are
// returned separately so the caller can warn about them.
func ParseDates(lines []string) ([]DateQuery, []string) {
	var dates []DateQuery
	var invalid []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		d, err := ParseDate(line)
		if err != nil {
			invalid = append(invalid, line)
			continue
		}
		dates = append(dates, d)
	}
	return UniqueSorted(dates), invalid
}

// UniqueSorted removes duplicate dates and orders them ascending.
func UniqueSorted(dates []DateQuery) []DateQuery {
	seen := make(map[string]bool, len(dates))
	out := make([]DateQuery, 0, len(dates))
	for _, d := range dates {
		if seen[d.ISO()] {
			continue
		}
		seen[d.ISO()] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.Before(out[j].CheckIn) })
	return out
}

// GenerateDates picks two dates per month for the given number of months,
// starting at the first full month on or after start: one Sunday-Thursday
// night and one Friday/Saturday night. Picks are stable per month.
func GenerateDates(start time.Time, months int) []DateQuery {
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	if start.Day() != 1 {
		first = first.AddDate(0, 1, 0)
	}

	var out []DateQuery
	for i := 0; i < months; i++ {
		month := first.AddDate(0, i, 0)
		var weekdays, weekends []time.Time
		for d := month; d.Month() == month.Month(); d = d.AddDate(0, 0, 1) {
			switch d.Weekday() {
			case time.Friday, time.Saturday:
				weekends = append(weekends, d)
			default:
				weekdays = append(weekdays, d)
			}
		}

		seed := uint64(month.Year()*100 + int(month.Month()))
		rng := rand.New(rand.NewPCG(seed, seed))
		out = append(out,
			NewDateQuery(weekdays[rng.IntN(len(weekdays))]),
			NewDateQuery(weekends[rng.IntN(len(weekends))]),
		)
	}
	return UniqueSorted(out)
}

// DateQueries parses the request's dates and appends generated ones when
// GenerateMonths is set. Generation starts at GenerateFrom, or now when blank.
func (r RateCheckRequest) DateQueries(now time.Time) ([]DateQuery, error) {
	dates, invalid := ParseDates(r.Dates)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid dates: %s", strings.Join(invalid, ", "))
	}
	if r.GenerateMonths > 0 {
		start := now
		if r.GenerateFrom != "" {
			d, err := ParseDate(r.GenerateFrom)
			if err != nil {
				return nil, err
			}
			start = d.CheckIn
		}
		dates = append(dates, GenerateDates(start, r.GenerateMonths)...)
	}
	return UniqueSorted(dates), nil
}
