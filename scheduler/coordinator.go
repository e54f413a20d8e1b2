package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"ratecheck/models"
	"ratecheck/scraper"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Runner resolves a single task. Implementations must always return a result.
type Runner interface {
	Run(ctx context.Context, task models.Task) models.RateResult
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task models.Task) models.RateResult

func (f RunnerFunc) Run(ctx context.Context, task models.Task) models.RateResult {
	return f(ctx, task)
}

// ProgressFunc is called after every recorded result.
type ProgressFunc func(done, total int)

type CoordinatorOptions struct {
	// Concurrency bounds the number of tasks in flight across every batch
	// run through the coordinator. Values below 1 mean 1.
	Concurrency int
	// JitterMin and JitterMax bound the pause taken after admission.
	JitterMin time.Duration
	JitterMax time.Duration
	// DefaultCurrency replaces a blank currency.
	DefaultCurrency string
}

func DefaultCoordinatorOptions() CoordinatorOptions {
	return CoordinatorOptions{
		Concurrency:     4,
		JitterMin:       250 * time.Millisecond,
		JitterMax:       800 * time.Millisecond,
		DefaultCurrency: "EUR",
	}
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCurrency upper-cases a currency code, substituting def when blank.
func NormalizeCurrency(currency, def string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		c = strings.ToUpper(def)
	}
	if c == "" {
		c = "EUR"
	}
	if !currencyPattern.MatchString(c) {
		return "", fmt.Errorf("invalid currency %q", currency)
	}
	return c, nil
}

// Coordinator fans batches of hotels and dates out to a Runner. All batches
// share one admission gate, so concurrent batches never exceed the bound.
type Coordinator struct {
	runner Runner
	opts   CoordinatorOptions
	gate   *semaphore.Weighted
	logger *slog.Logger
}

func NewCoordinator(runner Runner, opts CoordinatorOptions, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.JitterMax < opts.JitterMin {
		opts.JitterMax = opts.JitterMin
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "EUR"
	}
	return &Coordinator{
		runner: runner,
		opts:   opts,
		gate:   semaphore.NewWeighted(int64(opts.Concurrency)),
		logger: logger,
	}
}

func (c *Coordinator) Concurrency() int {
	return c.opts.Concurrency
}

// Normalize validates the currency and deduplicates the batch: hotels by
// name with blank names dropped, dates sorted.
func (c *Coordinator) Normalize(hotels []models.HotelDescriptor, dates []models.DateQuery, currency string) ([]models.HotelDescriptor, []models.DateQuery, string, error) {
	cur, err := NormalizeCurrency(currency, c.opts.DefaultCurrency)
	if err != nil {
		return nil, nil, "", err
	}

	seen := make(map[string]bool, len(hotels))
	uniq := make([]models.HotelDescriptor, 0, len(hotels))
	for _, h := range hotels {
		h.Name = strings.TrimSpace(h.Name)
		if h.Name == "" || seen[h.Name] {
			continue
		}
		seen[h.Name] = true
		uniq = append(uniq, h)
	}
	return uniq, models.UniqueSorted(dates), cur, nil
}

// Plan builds the hotel × date cross product of the normalised batch.
func (c *Coordinator) Plan(hotels []models.HotelDescriptor, dates []models.DateQuery, currency string, debug bool) ([]models.Task, error) {
	hotels, dates, cur, err := c.Normalize(hotels, dates, currency)
	if err != nil {
		return nil, err
	}
	tasks := make([]models.Task, 0, len(hotels)*len(dates))
	for _, h := range hotels {
		for _, d := range dates {
			tasks = append(tasks, models.Task{Hotel: h, Date: d, Currency: cur, Debug: debug})
		}
	}
	return tasks, nil
}

// Run resolves every (hotel, date) pair and returns the filled table. The
// table holds exactly one entry per planned task, even when ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, hotels []models.HotelDescriptor, dates []models.DateQuery, currency string, debug bool, progress ProgressFunc) (*models.ResultTable, error) {
	tasks, err := c.Plan(hotels, dates, currency, debug)
	if err != nil {
		return nil, err
	}
	return c.RunTasks(ctx, tasks, progress), nil
}

// RunTasks executes already planned tasks.
func (c *Coordinator) RunTasks(ctx context.Context, tasks []models.Task, progress ProgressFunc) *models.ResultTable {
	start := time.Now()
	table := models.NewResultTable()
	total := len(tasks)
	var done atomic.Int64

	c.logger.Info("rate batch started", "tasks", total, "concurrency", c.opts.Concurrency)

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			r := c.runOne(ctx, task)
			if err := table.Insert(task.Key(), r); err != nil {
				c.logger.Warn("result dropped", "hotel", task.Hotel.Name, "date", task.Date.ISO(), "err", err)
			}
			n := int(done.Add(1))
			if progress != nil {
				progress(n, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := table.Summary()
	c.logger.Info("rate batch finished",
		"tasks", summary.Total,
		"ok", summary.OK,
		"outcome", summary.Outcome,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return table
}

func (c *Coordinator) runOne(ctx context.Context, task models.Task) (result models.RateResult) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("runner panicked",
				"hotel", task.Hotel.Name,
				"date", task.Date.ISO(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			result = models.NewNotFound(models.ReasonUnexpected, fmt.Sprint(rec), 1, task.Currency)
		}
	}()

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return models.NewNotFound(models.ReasonUnexpected, "cancelled: "+err.Error(), 1, task.Currency)
	}
	defer c.gate.Release(1)

	if err := scraper.Jitter(ctx, c.opts.JitterMin, c.opts.JitterMax); err != nil {
		return models.NewNotFound(models.ReasonUnexpected, "cancelled: "+err.Error(), 1, task.Currency)
	}
	return c.runner.Run(ctx, task)
}
