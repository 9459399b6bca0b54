// Package janitor runs the background retention sweeps: expired idempotency
// records and terminal saga executions past their retention window. Sweeps
// are batched so a large backlog never holds a long transaction, and a sweep
// error is logged and retried on the next tick rather than stopping the loop.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/repo"
)

// Janitor periodically deletes rows no business logic will read again.
type Janitor struct {
	DB    *gorm.DB
	Clock clock.Clock

	// Interval between sweeps.
	Interval time.Duration
	// Batch caps rows deleted per table per sweep.
	Batch int
	// SagaRetention is how long committed/compensated sagas are kept.
	// Non-terminal sagas are never deleted here.
	SagaRetention time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Janitor with defaults applied to non-positive settings.
func New(db *gorm.DB, clk clock.Clock, interval time.Duration, batch int, sagaRetention time.Duration) *Janitor {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 500
	}
	if sagaRetention <= 0 {
		sagaRetention = 7 * 24 * time.Hour
	}
	return &Janitor{DB: db, Clock: clk, Interval: interval, Batch: batch, SagaRetention: sagaRetention}
}

// Start launches the sweep loop. The first sweep runs after one interval.
func (j *Janitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(1)
	go j.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over both tables and returns the rows removed. It is
// exported so operators can trigger it out of band (and tests can call it
// without the ticker).
func (j *Janitor) Sweep(ctx context.Context) (idem, sagas int64) {
	now := j.Clock.Now()

	idem, err := repo.DeleteExpiredIdempotency(ctx, j.DB, now, j.Batch)
	if err != nil {
		log.Error().Err(err).Msg("janitor: delete expired idempotency records")
	}

	sagas, err = repo.DeleteSagasBefore(ctx, j.DB, now.Add(-j.SagaRetention), j.Batch)
	if err != nil {
		log.Error().Err(err).Msg("janitor: delete retained saga executions")
	}

	if idem > 0 || sagas > 0 {
		log.Info().
			Int64("idempotency_deleted", idem).
			Int64("sagas_deleted", sagas).
			Msg("janitor sweep")
	}
	return idem, sagas
}
