package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ratecheck/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(d int) models.DateQuery {
	return models.NewDateQuery(time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC))
}

func sampleResults(t *testing.T) *models.ResultTable {
	t.Helper()
	rt := models.NewResultTable()
	ok := models.NewOK(models.Quote{
		PerNight:      decimal.RequireFromString("1234.5"),
		TotalForStay:  decimal.RequireFromString("1234.5"),
		NightsQueried: 1,
		Source:        models.SourceDOM,
	}, "EUR").WithDiagnostics([]models.RowDiagnostic{
		{Index: 0, Verdict: models.VerdictSingle},
		{Index: 1, Verdict: models.VerdictCandidate, Price: "1234.5", Inclusive: true},
	})
	require.NoError(t, rt.Insert(models.ResultKey{Hotel: "Regent", Date: "2025-03-04"}, models.NewNotFound(models.ReasonSoldOut, "", 1, "EUR")))
	require.NoError(t, rt.Insert(models.ResultKey{Hotel: "Adlon", Date: "2025-03-04"}, ok))
	require.NoError(t, rt.Insert(models.ResultKey{Hotel: "Adlon", Date: "2025-03-07"}, models.NewNotFound(models.ReasonTimeout, "page wait", 1, "EUR")))
	return rt
}

func TestCSVFileName(t *testing.T) {
	assert.Equal(t, "booking_rates_EUR.csv", CSVFileName("eur"))
}

func TestLayoutOf(t *testing.T) {
	l := LayoutOf(sampleResults(t))
	assert.Equal(t, []string{"Adlon", "Regent"}, l.Hotels)
	require.Len(t, l.Dates, 2)
	assert.Equal(t, "2025-03-04", l.Dates[0].ISO())
	assert.Equal(t, "2025-03-07", l.Dates[1].ISO())
}

func TestWriteCSVKeepsRequestOrder(t *testing.T) {
	layout := LayoutFor(
		[]models.HotelDescriptor{{Name: "Regent"}, {Name: "Adlon"}},
		[]models.DateQuery{date(7), date(4)},
	)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleResults(t), layout))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Date,Regent,Adlon",
		"04.03.2025,No rate found,1234.50",
		"07.03.2025,No rate found,No rate found",
	}, lines)
}

func TestWriteCSVQuotesHotelNames(t *testing.T) {
	rt := models.NewResultTable()
	name := `Adlon Kempinski, Berlin "Unter den Linden"`
	require.NoError(t, rt.Insert(models.ResultKey{Hotel: name, Date: "2025-03-04"}, models.NewOK(models.Quote{
		PerNight:      decimal.NewFromInt(310),
		TotalForStay:  decimal.NewFromInt(310),
		NightsQueried: 1,
		Source:        models.SourceAPI,
	}, "EUR")))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rt, LayoutOf(rt)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Date", name},
		{"04.03.2025", "310.00"},
	}, records)
}

func TestRatesTableRender(t *testing.T) {
	out := RatesTable(sampleResults(t), LayoutOf(sampleResults(t))).Render()
	assert.Contains(t, out, "1234.50")
	assert.Contains(t, out, "04.03.2025")
	assert.Contains(t, out, NoRate)
}

func TestDebugTables(t *testing.T) {
	rt := sampleResults(t)

	out := DebugTable(rt).Render()
	assert.Contains(t, out, "sold_out")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, "page wait")
	assert.Contains(t, out, "NOT_FOUND")

	out = DiagnosticsTable(rt).Render()
	assert.Contains(t, out, string(models.VerdictSingle))
	assert.Contains(t, out, "1234.5")
}

func TestSaveCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	rt := sampleResults(t)

	path, err := SaveCSV(dir, "eur", rt, LayoutOf(rt))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "booking_rates_EUR.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Date,Adlon,Regent\n"))
}
