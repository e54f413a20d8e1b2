package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"ratecheck/models"

	"github.com/robfig/cron/v3"
)

var ErrCheckRunning = errors.New("a scheduled rate check is already running")

// BatchLoader supplies the batch for a scheduled run. It is called on every
// run so edits to the batch file are picked up.
type BatchLoader func(ctx context.Context) (models.RateCheckRequest, error)

// ResultSink receives the results of a scheduled run.
type ResultSink func(ctx context.Context, table *models.ResultTable, currency string) error

// RateChecker runs a configured batch on a cron schedule.
type RateChecker struct {
	cron    *cron.Cron
	coord   *Coordinator
	load    BatchLoader
	sink    ResultSink
	logger  *slog.Logger
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRateChecker(coord *Coordinator, load BatchLoader, sink ResultSink, logger *slog.Logger) *RateChecker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RateChecker{
		cron:   cron.New(cron.WithSeconds()),
		coord:  coord,
		load:   load,
		sink:   sink,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the batch with a six-field cron spec. With runNow set the
// first run starts immediately.
func (rc *RateChecker) Start(spec string, runNow bool) error {
	if _, err := rc.cron.AddFunc(spec, rc.scheduledRun); err != nil {
		return err
	}
	if runNow {
		go rc.scheduledRun()
	}
	rc.cron.Start()
	rc.logger.Info("rate checker scheduled", "schedule", spec)
	return nil
}

// Stop cancels a running check and waits for scheduled jobs to return.
func (rc *RateChecker) Stop() {
	rc.cancel()
	<-rc.cron.Stop().Done()
}

func (rc *RateChecker) scheduledRun() {
	if _, err := rc.CheckNow(rc.ctx); err != nil {
		if errors.Is(err, ErrCheckRunning) {
			rc.logger.Warn("skipping scheduled run, previous run still active")
			return
		}
		rc.logger.Error("scheduled rate check failed", "err", err)
	}
}

// CheckNow loads the batch, runs it and hands the table to the sink. Runs do
// not overlap.
func (rc *RateChecker) CheckNow(ctx context.Context) (*models.ResultTable, error) {
	if !rc.running.CompareAndSwap(false, true) {
		return nil, ErrCheckRunning
	}
	defer rc.running.Store(false)

	req, err := rc.load(ctx)
	if err != nil {
		return nil, err
	}
	dates, err := req.DateQueries(time.Now())
	if err != nil {
		return nil, err
	}
	hotels, dates, currency, err := rc.coord.Normalize(req.Hotels, dates, req.Currency)
	if err != nil {
		return nil, err
	}

	rc.logger.Info("scheduled rate check started", "hotels", len(hotels), "dates", len(dates), "currency", currency)
	table, err := rc.coord.Run(ctx, hotels, dates, currency, req.Debug, nil)
	if err != nil {
		return nil, err
	}
	if rc.sink != nil {
		if err := rc.sink(ctx, table, currency); err != nil {
			return table, err
		}
	}
	rc.logger.Info("scheduled rate check finished", "summary", table.Summary().Message())
	return table, nil
}
