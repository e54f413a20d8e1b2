// Package export renders result tables for terminals and CSV downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ratecheck/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// NoRate is the cell text for a pair without a rate.
const NoRate = "No rate found"

// CSVFileName is the download name for a currency.
func CSVFileName(currency string) string {
	return fmt.Sprintf("booking_rates_%s.csv", strings.ToUpper(currency))
}

// Layout fixes the row and column order of a rate table.
type Layout struct {
	Hotels []string
	Dates  []models.DateQuery
}

// LayoutOf derives a layout from the table keys: dates ascending, hotels in
// name order.
func LayoutOf(results *models.ResultTable) Layout {
	var l Layout
	seenHotel := make(map[string]bool)
	seenDate := make(map[string]bool)
	for _, k := range results.Keys() {
		if !seenHotel[k.Hotel] {
			seenHotel[k.Hotel] = true
			l.Hotels = append(l.Hotels, k.Hotel)
		}
		if !seenDate[k.Date] {
			if d, err := models.ParseDate(k.Date); err == nil {
				seenDate[k.Date] = true
				l.Dates = append(l.Dates, d)
			}
		}
	}
	sort.Strings(l.Hotels)
	return l
}

// LayoutFor keeps the hotel order of the request.
func LayoutFor(hotels []models.HotelDescriptor, dates []models.DateQuery) Layout {
	l := Layout{Dates: models.UniqueSorted(dates)}
	for _, h := range hotels {
		l.Hotels = append(l.Hotels, h.Name)
	}
	return l
}

// Cell renders one pair: the per-night rate to two decimals, or NoRate.
func Cell(r models.RateResult, ok bool) string {
	if !ok {
		return NoRate
	}
	per, found := r.PerNight()
	if !found {
		return NoRate
	}
	return per.StringFixed(2)
}

// rateGrid lays the results out as a header and one row per date.
func rateGrid(results *models.ResultTable, layout Layout) ([]string, [][]string) {
	header := append([]string{"Date"}, layout.Hotels...)
	rows := make([][]string, 0, len(layout.Dates))
	for _, d := range layout.Dates {
		row := []string{d.Display()}
		for _, h := range layout.Hotels {
			r, ok := results.Get(models.ResultKey{Hotel: h, Date: d.ISO()})
			row = append(row, Cell(r, ok))
		}
		rows = append(rows, row)
	}
	return header, rows
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

// RatesTable builds the date × hotel table.
func RatesTable(results *models.ResultTable, layout Layout) table.Writer {
	t := table.NewWriter()
	header, rows := rateGrid(results, layout)
	t.AppendHeader(toRow(header))
	for _, r := range rows {
		t.AppendRow(toRow(r))
	}
	t.SetStyle(table.StyleRounded)
	return t
}

// DebugTable lists status and reason for every pair.
func DebugTable(results *models.ResultTable) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Hotel", "Date", "Status", "Reason", "Per night", "Nights", "Min stay", "Source", "Detail"})
	for _, e := range results.Entries() {
		r := e.Result
		per, source := "", ""
		if q, ok := r.Quote(); ok {
			per = q.PerNight.StringFixed(2)
			source = string(q.Source)
		}
		t.AppendRow(table.Row{
			e.Hotel, e.Date, r.Status(), r.Reason(), per,
			r.NightsQueried(), r.MinStayApplied(), source, r.Detail(),
		})
	}
	t.SetStyle(table.StyleRounded)
	return t
}

// DiagnosticsTable lists the inspected room rows of debug runs.
func DiagnosticsTable(results *models.ResultTable) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Hotel", "Date", "Row", "Verdict", "Price", "Tax incl.", "Note"})
	for _, e := range results.Entries() {
		for _, d := range e.Result.Diagnostics() {
			t.AppendRow(table.Row{e.Hotel, e.Date, d.Index, d.Verdict, d.Price, d.Inclusive, d.Note})
		}
	}
	t.SetStyle(table.StyleRounded)
	return t
}

// WriteCSV writes the rates table as RFC 4180 CSV.
func WriteCSV(w io.Writer, results *models.ResultTable, layout Layout) error {
	header, rows := rateGrid(results, layout)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// SaveCSV writes the rates table into dir under CSVFileName and returns the
// file path.
func SaveCSV(dir, currency string, results *models.ResultTable, layout Layout) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, CSVFileName(currency))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteCSV(f, results, layout); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}
