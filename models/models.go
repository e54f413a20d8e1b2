package models

import (
	"strings"
	"time"
)

// HotelDescriptor names a property to price. DirectURL skips resolution when set.
type HotelDescriptor struct {
	Name      string `json:"name"`
	DirectURL string `json:"url,omitempty"`
	City      string `json:"city,omitempty"`
}

// HasDirectURL reports whether resolution can be skipped.
func (h HotelDescriptor) HasDirectURL() bool {
	return strings.TrimSpace(h.DirectURL) != ""
}

// DateQuery is a check-in date. The stay length is one night unless a
// minimum-stay rule overrides it.
type DateQuery struct {
	CheckIn time.Time
}

// NewDateQuery truncates t to a UTC calendar date.
func NewDateQuery(t time.Time) DateQuery {
	y, m, d := t.Date()
	return DateQuery{CheckIn: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d DateQuery) ISO() string {
	return d.CheckIn.Format(ISODateLayout)
}

func (d DateQuery) Display() string {
	return d.CheckIn.Format(DisplayDateLayout)
}

// CheckOut returns the checkout date for a stay of the given number of nights.
func (d DateQuery) CheckOut(nights int) time.Time {
	return d.CheckIn.AddDate(0, 0, nights)
}

func (d DateQuery) MarshalText() ([]byte, error) {
	return []byte(d.ISO()), nil
}

func (d *DateQuery) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Task is one (hotel, date) unit of work.
type Task struct {
	Hotel    HotelDescriptor
	Date     DateQuery
	Currency string
	Debug    bool
}

func (t Task) Key() ResultKey {
	return ResultKey{Hotel: t.Hotel.Name, Date: t.Date.ISO()}
}

// RateCheckRequest is the input contract shared by the CLI batch file and the HTTP API.
type RateCheckRequest struct {
	Hotels   []HotelDescriptor `json:"hotels"`
	Dates    []string          `json:"dates"`
	Currency string            `json:"currency"`
	Debug    bool              `json:"debug"`

	// Optional generated dates appended to Dates.
	GenerateFrom   string `json:"generate_from,omitempty"`
	GenerateMonths int    `json:"generate_months,omitempty"`
}
