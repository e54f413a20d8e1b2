package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"ratecheck/export"
	"ratecheck/models"
	"ratecheck/scheduler"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const maxGenerateMonths = 24

type Handlers struct {
	taskManager *scheduler.TaskManager
	logger      *slog.Logger
	maxBody     int64
	started     time.Time
	version     string
}

func NewHandlers(taskManager *scheduler.TaskManager, maxBody int64, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handlers{
		taskManager: taskManager,
		logger:      logger,
		maxBody:     maxBody,
		started:     time.Now(),
		version:     version,
	}
}

// Register mounts the versioned API on r.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/rate-checks", h.CreateRateCheck).Methods(http.MethodPost)
	r.HandleFunc("/rate-checks/{taskId}", h.GetRateCheck).Methods(http.MethodGet)
	r.HandleFunc("/rate-checks/{taskId}/csv", h.GetRateCheckCSV).Methods(http.MethodGet)
	r.HandleFunc("/tasks/stats", h.GetTaskStats).Methods(http.MethodGet)
	r.HandleFunc("/dates/generate", h.GenerateDates).Methods(http.MethodPost)
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":     "ratecheck",
		"status":      "healthy",
		"timestamp":   time.Now(),
		"version":     h.version,
		"api_version": "v1",
	})
}

// Metrics reports process, host and task manager figures.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	host := map[string]interface{}{}
	if usage, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(usage) > 0 {
		host["cpu_percent"] = usage[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		host["memory_used_percent"] = vm.UsedPercent
		host["memory_total_mb"] = vm.Total / 1024 / 1024
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":    time.Now(),
		"uptime":       time.Since(h.started).Round(time.Second).String(),
		"goroutines":   runtime.NumGoroutine(),
		"memory_usage": fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
		"host":         host,
		"tasks":        h.taskManager.GetStats(),
	})
}

// CreateRateCheck queues a batch and answers with its task id.
func (h *Handlers) CreateRateCheck(w http.ResponseWriter, r *http.Request) {
	var req models.RateCheckRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dates, err := req.DateQueries(time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskManager.Submit(req.Hotels, dates, req.Currency, req.Debug)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrManagerClose):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, scheduler.ErrBatchTooBig):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.logger.Info("rate check queued", "task", task.ID, "pairs", task.Size(), "currency", task.Currency)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":  task.ID,
		"status":   task.CurrentStatus(),
		"message":  "Rate check queued for processing",
		"pairs":    task.Size(),
		"currency": task.Currency,
		"links": map[string]string{
			"self": "/api/v1/rate-checks/" + task.ID,
			"csv":  "/api/v1/rate-checks/" + task.ID + "/csv",
		},
	})
}

func (h *Handlers) GetRateCheck(w http.ResponseWriter, r *http.Request) {
	task, ok := h.taskManager.GetTask(mux.Vars(r)["taskId"])
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetRateCheckCSV serves the finished rate table as a CSV download.
func (h *Handlers) GetRateCheckCSV(w http.ResponseWriter, r *http.Request) {
	task, ok := h.taskManager.GetTask(mux.Vars(r)["taskId"])
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	results, ok := task.ResultTable()
	if !ok {
		writeError(w, http.StatusConflict, "Task has not completed")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.CSVFileName(task.Currency)))
	if err := export.WriteCSV(w, results, export.LayoutFor(task.Hotels, task.Dates)); err != nil {
		h.logger.Warn("csv write failed", "task", task.ID, "err", err)
	}
}

func (h *Handlers) GetTaskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     h.taskManager.GetStats(),
		"timestamp": time.Now(),
	})
}

// GenerateDates returns two check-in dates per month.
func (h *Handlers) GenerateDates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From   string `json:"from,omitempty"`
		Months int    `json:"months"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Months < 1 || req.Months > maxGenerateMonths {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("months must be between 1 and %d", maxGenerateMonths))
		return
	}

	start := time.Now()
	if req.From != "" {
		d, err := models.ParseDate(req.From)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start = d.CheckIn
	}

	dates := models.GenerateDates(start, req.Months)
	out := make([]map[string]string, len(dates))
	for i, d := range dates {
		out[i] = map[string]string{
			"date":    d.ISO(),
			"display": d.Display(),
			"weekday": d.CheckIn.Weekday().String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dates": out})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
