package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ratecheck/models"
)

var (
	ErrQueueFull    = errors.New("task queue is full")
	ErrEmptyBatch   = errors.New("batch has no hotel/date pairs")
	ErrBatchTooBig  = errors.New("batch exceeds the maximum size")
	ErrManagerClose = errors.New("task manager stopped")
)

type TaskManagerOptions struct {
	Workers    int
	QueueSize  int
	MaxPairs   int
	Retention  time.Duration
	CleanEvery time.Duration
}

// TaskManager runs rate-check batches submitted over the API in the
// background.
type TaskManager struct {
	coord  *Coordinator
	opts   TaskManagerOptions
	logger *slog.Logger

	mu      sync.RWMutex
	tasks   map[string]*models.BatchTask
	queue   chan *models.BatchTask
	busy    int
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskManager(coord *Coordinator, opts TaskManagerOptions, logger *slog.Logger) *TaskManager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.CleanEvery <= 0 {
		opts.CleanEvery = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	tm := &TaskManager{
		coord:  coord,
		opts:   opts,
		logger: logger,
		tasks:  make(map[string]*models.BatchTask),
		queue:  make(chan *models.BatchTask, opts.QueueSize),
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		tm.wg.Add(1)
		go tm.worker(ctx)
	}
	tm.wg.Add(1)
	go tm.janitor(ctx)

	logger.Info("task manager started", "workers", opts.Workers, "queue", opts.QueueSize)
	return tm
}

// Submit validates a batch and queues it.
func (tm *TaskManager) Submit(hotels []models.HotelDescriptor, dates []models.DateQuery, currency string, debug bool) (*models.BatchTask, error) {
	hotels, dates, cur, err := tm.coord.Normalize(hotels, dates, currency)
	if err != nil {
		return nil, err
	}
	pairs := len(hotels) * len(dates)
	if pairs == 0 {
		return nil, ErrEmptyBatch
	}
	if tm.opts.MaxPairs > 0 && pairs > tm.opts.MaxPairs {
		return nil, ErrBatchTooBig
	}

	task := models.NewBatchTask(hotels, dates, cur, debug)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.stopped {
		return nil, ErrManagerClose
	}
	select {
	case tm.queue <- task:
	default:
		tm.logger.Warn("task rejected, queue full", "task", task.ID)
		return nil, ErrQueueFull
	}
	tm.tasks[task.ID] = task
	tm.logger.Info("task submitted", "task", task.ID, "hotels", len(hotels), "dates", len(dates))
	return task, nil
}

func (tm *TaskManager) GetTask(taskID string) (*models.BatchTask, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[taskID]
	return task, ok
}

// GetActiveTasks returns queued and running batches.
func (tm *TaskManager) GetActiveTasks() []*models.BatchTask {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	var active []*models.BatchTask
	for _, task := range tm.tasks {
		if task.IsActive() {
			active = append(active, task)
		}
	}
	return active
}

// CleanupOldTasks removes finished batches created before now-maxAge.
func (tm *TaskManager) CleanupOldTasks(maxAge time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, task := range tm.tasks {
		if task.IsCompleted() && task.CreatedAt.Before(cutoff) {
			delete(tm.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		tm.logger.Debug("cleaned up finished tasks", "count", removed)
	}
	return removed
}

func (tm *TaskManager) janitor(ctx context.Context) {
	defer tm.wg.Done()
	ticker := time.NewTicker(tm.opts.CleanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tm.CleanupOldTasks(tm.opts.Retention)
		case <-ctx.Done():
			return
		}
	}
}

func (tm *TaskManager) worker(ctx context.Context) {
	defer tm.wg.Done()
	for {
		select {
		case task := <-tm.queue:
			if ctx.Err() != nil {
				tm.abandon(task)
				continue
			}
			tm.process(ctx, task)
		case <-ctx.Done():
			return
		}
	}
}

func (tm *TaskManager) process(ctx context.Context, task *models.BatchTask) {
	tm.setBusy(1)
	defer tm.setBusy(-1)

	logger := tm.logger.With("task", task.ID)
	logger.Info("task started", "pairs", task.Size())
	task.Start()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("task crashed", "panic", rec)
			task.Fail("internal error")
		}
	}()

	table, err := tm.coord.Run(ctx, task.Hotels, task.Dates, task.Currency, task.Debug, func(done, _ int) {
		task.UpdateProgress(done)
	})
	if err != nil {
		task.Fail(err.Error())
		logger.Warn("task failed", "err", err)
		return
	}
	task.Complete(table)
	logger.Info("task completed", "duration", task.Duration().Round(time.Millisecond), "outcome", table.Summary().Outcome)
}

func (tm *TaskManager) setBusy(delta int) {
	tm.mu.Lock()
	tm.busy += delta
	tm.mu.Unlock()
}

// Stop cancels running batches and waits for the workers to exit. Running
// batches finish with every remaining pair reported as unexpected; queued
// batches are failed.
func (tm *TaskManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	tm.mu.Unlock()

	tm.cancel()
	tm.wg.Wait()

	for {
		select {
		case task := <-tm.queue:
			tm.abandon(task)
		default:
			tm.logger.Info("task manager stopped")
			return
		}
	}
}

// abandon fails a batch that was still queued at shutdown.
func (tm *TaskManager) abandon(task *models.BatchTask) {
	task.Fail(ErrManagerClose.Error())
	tm.logger.Warn("queued task abandoned", "task", task.ID)
}

// GetStats returns task manager statistics.
func (tm *TaskManager) GetStats() map[string]interface{} {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	statusCounts := make(map[string]int)
	for _, task := range tm.tasks {
		statusCounts[string(task.CurrentStatus())]++
	}
	return map[string]interface{}{
		"total_tasks":     len(tm.tasks),
		"active_workers":  tm.busy,
		"max_workers":     tm.opts.Workers,
		"queue_size":      len(tm.queue),
		"concurrency":     tm.coord.Concurrency(),
		"tasks_by_status": statusCounts,
	}
}
