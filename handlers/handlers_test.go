package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ratecheck/models"
	"ratecheck/scheduler"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRunner(release <-chan struct{}) scheduler.RunnerFunc {
	return func(ctx context.Context, task models.Task) models.RateResult {
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		if task.Hotel.Name == "Regent" {
			return models.NewNotFound(models.ReasonSoldOut, "", 1, task.Currency)
		}
		return models.NewOK(models.Quote{
			PerNight:      decimal.RequireFromString("189.9"),
			TotalForStay:  decimal.RequireFromString("189.9"),
			NightsQueried: 1,
			Source:        models.SourceDOM,
		}, task.Currency)
	}
}

func newServer(t *testing.T, runner scheduler.Runner) http.Handler {
	t.Helper()
	coord := scheduler.NewCoordinator(runner, scheduler.CoordinatorOptions{Concurrency: 2}, nil)
	tm := scheduler.NewTaskManager(coord, scheduler.TaskManagerOptions{Workers: 1, MaxPairs: 10}, nil)
	t.Cleanup(tm.Stop)

	h := NewHandlers(tm, 0, "test", nil)
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)
	h.Register(r.PathPrefix("/api/v1").Subrouter())
	return r
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const batch = `{
	"hotels": [{"name": "Adlon", "url": "https://www.booking.com/hotel/de/adlon.html"}, {"name": "Regent"}],
	"dates": ["04.03.2025", "2025-03-07"],
	"currency": "eur"
}`

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t, fixedRunner(nil))

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "goroutines")
	assert.Contains(t, body, "tasks")
}

func TestRateCheckLifecycle(t *testing.T) {
	srv := newServer(t, fixedRunner(nil))

	rec := do(t, srv, http.MethodPost, "/api/v1/rate-checks", batch)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	created := decode(t, rec)
	taskID, _ := created["task_id"].(string)
	require.NotEmpty(t, taskID)
	assert.EqualValues(t, 4, created["pairs"])
	assert.Equal(t, "EUR", created["currency"])

	var status map[string]interface{}
	require.Eventually(t, func() bool {
		status = decode(t, do(t, srv, http.MethodGet, "/api/v1/rate-checks/"+taskID, ""))
		return status["status"] == string(models.TaskStatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)

	summary := status["summary"].(map[string]interface{})
	assert.Equal(t, "partial", summary["outcome"])
	assert.EqualValues(t, 4, summary["total"])
	assert.Len(t, status["results"], 4)

	rec = do(t, srv, http.MethodGet, "/api/v1/rate-checks/"+taskID+"/csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="booking_rates_EUR.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, []string{
		"Date,Adlon,Regent",
		"04.03.2025,189.90,No rate found",
		"07.03.2025,189.90,No rate found",
	}, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"))

	stats := decode(t, do(t, srv, http.MethodGet, "/api/v1/tasks/stats", ""))
	assert.Contains(t, stats, "stats")
}

func TestRateCheckValidation(t *testing.T) {
	srv := newServer(t, fixedRunner(nil))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"hotels": [`, http.StatusBadRequest},
		{"bad currency", `{"hotels": [{"name": "A"}], "dates": ["2025-03-04"], "currency": "euro"}`, http.StatusBadRequest},
		{"bad date", `{"hotels": [{"name": "A"}], "dates": ["31.02.2025"]}`, http.StatusBadRequest},
		{"no hotels", `{"hotels": [], "dates": ["2025-03-04"]}`, http.StatusBadRequest},
		{"too many pairs", `{"hotels": [{"name": "A"}, {"name": "B"}], "generate_from": "2025-01-01", "generate_months": 3}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/rate-checks", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestRateCheckNotFoundAndPending(t *testing.T) {
	release := make(chan struct{})
	srv := newServer(t, fixedRunner(release))
	defer close(release)

	rec := do(t, srv, http.MethodGet, "/api/v1/rate-checks/task_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/v1/rate-checks/task_missing/csv", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/rate-checks", batch)
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decode(t, rec)["task_id"].(string)

	rec = do(t, srv, http.MethodGet, "/api/v1/rate-checks/"+taskID+"/csv", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGenerateDates(t *testing.T) {
	srv := newServer(t, fixedRunner(nil))

	rec := do(t, srv, http.MethodPost, "/api/v1/dates/generate", `{"from": "15.01.2025", "months": 2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dates := decode(t, rec)["dates"].([]interface{})
	require.Len(t, dates, 4)
	first := dates[0].(map[string]interface{})
	assert.True(t, strings.HasPrefix(first["date"].(string), "2025-02-"))
	assert.True(t, strings.HasSuffix(first["display"].(string), ".02.2025"))

	rec = do(t, srv, http.MethodPost, "/api/v1/dates/generate", `{"months": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPost, "/api/v1/dates/generate", `{"from": "someday", "months": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
