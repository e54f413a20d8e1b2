package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ratecheck/models"
	"ratecheck/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticBatch(req models.RateCheckRequest) scheduler.BatchLoader {
	return func(context.Context) (models.RateCheckRequest, error) { return req, nil }
}

func TestRateCheckerCheckNow(t *testing.T) {
	var sunk atomic.Int32
	var gotCurrency string
	rc := scheduler.NewRateChecker(
		scheduler.NewCoordinator(okRunner(), noJitter(2), nil),
		staticBatch(models.RateCheckRequest{
			Hotels:   []models.HotelDescriptor{{Name: "Adlon"}, {Name: "Regent"}},
			Dates:    []string{"04.03.2025", "2025-03-07"},
			Currency: "usd",
		}),
		func(_ context.Context, table *models.ResultTable, currency string) error {
			sunk.Add(1)
			gotCurrency = currency
			assert.Equal(t, 4, table.Len())
			return nil
		},
		nil,
	)
	defer rc.Stop()

	table, err := rc.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, table.Len())
	assert.EqualValues(t, 1, sunk.Load())
	assert.Equal(t, "USD", gotCurrency)
}

func TestRateCheckerErrors(t *testing.T) {
	coord := scheduler.NewCoordinator(okRunner(), noJitter(1), nil)

	rc := scheduler.NewRateChecker(coord, func(context.Context) (models.RateCheckRequest, error) {
		return models.RateCheckRequest{}, errors.New("batch file missing")
	}, nil, nil)
	_, err := rc.CheckNow(context.Background())
	assert.ErrorContains(t, err, "batch file missing")

	rc = scheduler.NewRateChecker(coord, staticBatch(models.RateCheckRequest{
		Hotels: []models.HotelDescriptor{{Name: "A"}},
		Dates:  []string{"yesterday"},
	}), nil, nil)
	_, err = rc.CheckNow(context.Background())
	assert.ErrorContains(t, err, "yesterday")

	sinkErr := errors.New("disk full")
	rc = scheduler.NewRateChecker(coord, staticBatch(models.RateCheckRequest{
		Hotels: []models.HotelDescriptor{{Name: "A"}},
		Dates:  []string{"2025-03-04"},
	}), func(context.Context, *models.ResultTable, string) error { return sinkErr }, nil)
	table, err := rc.CheckNow(context.Background())
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, table.Len())
}

func TestRateCheckerDoesNotOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := scheduler.RunnerFunc(func(ctx context.Context, task models.Task) models.RateResult {
		close(started)
		<-release
		return okRunner()(ctx, task)
	})
	rc := scheduler.NewRateChecker(
		scheduler.NewCoordinator(slow, noJitter(1), nil),
		staticBatch(models.RateCheckRequest{
			Hotels: []models.HotelDescriptor{{Name: "A"}},
			Dates:  []string{"2025-03-04"},
		}),
		nil, nil,
	)

	done := make(chan error, 1)
	go func() {
		_, err := rc.CheckNow(context.Background())
		done <- err
	}()
	<-started

	_, err := rc.CheckNow(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrCheckRunning)

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestRateCheckerRejectsBadSchedule(t *testing.T) {
	rc := scheduler.NewRateChecker(scheduler.NewCoordinator(okRunner(), noJitter(1), nil), staticBatch(models.RateCheckRequest{}), nil, nil)
	defer rc.Stop()
	assert.Error(t, rc.Start("every tuesday", false))
}
