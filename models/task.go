package models

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mazen160/go-random"
)

// TaskStatus represents the status of an async batch
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// BatchTask is an async rate-check batch submitted over the API
type BatchTask struct {
	mu sync.RWMutex

	ID          string
	Hotels      []HotelDescriptor
	Dates       []DateQuery
	Currency    string
	Debug       bool
	Status      TaskStatus
	Progress    int
	Message     string
	Results     *ResultTable
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewBatchTask creates a queued batch
func NewBatchTask(hotels []HotelDescriptor, dates []DateQuery, currency string, debug bool) *BatchTask {
	return &BatchTask{
		ID:        generateTaskID(),
		Hotels:    hotels,
		Dates:     dates,
		Currency:  currency,
		Debug:     debug,
		Status:    TaskStatusQueued,
		Message:   "Task queued for processing",
		CreatedAt: time.Now(),
	}
}

// Size is the number of (hotel, date) pairs in the batch.
func (t *BatchTask) Size() int {
	return len(t.Hotels) * len(t.Dates)
}

// Start marks the task as processing
func (t *BatchTask) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Status = TaskStatusProcessing
	t.Progress = 0
	t.Message = "Checking rates..."
	now := time.Now()
	t.StartedAt = &now
}

// UpdateProgress records how many pairs are done.
func (t *BatchTask) UpdateProgress(done int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size := t.Size(); size > 0 {
		t.Progress = done * 100 / size
	}
	t.Message = fmt.Sprintf("Checked %d of %d", done, t.Size())
}

// Complete marks the task as completed with its result table
func (t *BatchTask) Complete(results *ResultTable) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.Results = results
	t.Message = results.Summary().Message()
	now := time.Now()
	t.CompletedAt = &now
}

// Fail marks the task as failed with error
func (t *BatchTask) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Status = TaskStatusFailed
	t.Progress = 0
	t.Message = "Rate check failed"
	t.Error = reason
	now := time.Now()
	t.CompletedAt = &now
}

func (t *BatchTask) CurrentStatus() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// ResultTable returns the results once the batch has completed.
func (t *BatchTask) ResultTable() (*ResultTable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Results, t.Results != nil
}

// IsCompleted returns true if the task is in a final state
func (t *BatchTask) IsCompleted() bool {
	s := t.CurrentStatus()
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsActive returns true if the task is still running
func (t *BatchTask) IsActive() bool {
	s := t.CurrentStatus()
	return s == TaskStatusQueued || s == TaskStatusProcessing
}

// Duration returns the duration of the task
func (t *BatchTask) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.StartedAt == nil {
		return 0
	}
	endTime := time.Now()
	if t.CompletedAt != nil {
		endTime = *t.CompletedAt
	}
	return endTime.Sub(*t.StartedAt)
}

func (t *BatchTask) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dates := make([]string, len(t.Dates))
	for i, d := range t.Dates {
		dates[i] = d.ISO()
	}
	out := map[string]interface{}{
		"id":         t.ID,
		"status":     t.Status,
		"progress":   t.Progress,
		"message":    t.Message,
		"hotels":     t.Hotels,
		"dates":      dates,
		"currency":   t.Currency,
		"created_at": t.CreatedAt,
	}
	if t.StartedAt != nil {
		out["started_at"] = t.StartedAt
	}
	if t.CompletedAt != nil {
		out["completed_at"] = t.CompletedAt
	}
	if t.Error != "" {
		out["error"] = t.Error
	}
	if t.Results != nil {
		out["summary"] = t.Results.Summary()
		out["results"] = t.Results.Entries()
	}
	return json.Marshal(out)
}

// generateTaskID generates a unique task ID
func generateTaskID() string {
	suffix, err := random.String(8)
	if err != nil {
		suffix = fmt.Sprintf("%08d", time.Now().UnixNano()%100000000)
	}
	return "task_" + time.Now().Format("20060102150405") + "_" + suffix
}
