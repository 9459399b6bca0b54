package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/repo"
)

// ErrCompensationFailed indicates a saga's compensation did not complete. The
// saga stays in "compensating" and is flagged for operator intervention; it is
// never auto-downgraded to "compensated".
var ErrCompensationFailed = errors.New("saga compensation failed")

// ErrCanceled indicates the saga was canceled before its first step executed.
var ErrCanceled = errors.New("saga canceled before execution")

// Recorder persists saga execution state. The orchestrator is the single
// writer for a given saga.
type Recorder interface {
	Create(ctx context.Context, s *domain.SagaExecution) error
	Update(ctx context.Context, s *domain.SagaExecution) error
}

// GormRecorder persists sagas through the repo layer.
type GormRecorder struct{ DB *gorm.DB }

// Create proxies repo.CreateSagaExecution.
func (r GormRecorder) Create(ctx context.Context, s *domain.SagaExecution) error {
	return repo.CreateSagaExecution(ctx, r.DB, s)
}

// Update proxies repo.UpdateSagaExecution.
func (r GormRecorder) Update(ctx context.Context, s *domain.SagaExecution) error {
	return repo.UpdateSagaExecution(ctx, r.DB, s)
}

// Observer receives the outcome of every finished saga. The health monitor
// implements this; NopObserver serves tests and tools.
type Observer interface {
	RecordOutcome(operation string, success bool, durationMs int64, failureKind string)
}

// NopObserver discards outcomes.
type NopObserver struct{}

// RecordOutcome implements Observer.
func (NopObserver) RecordOutcome(string, bool, int64, string) {}

// Orchestrator sequences saga steps, persists per-step state, and drives
// compensation on partial failure. Steps of one saga always run sequentially;
// asynchronous execution only moves the whole saga onto a bounded worker pool.
type Orchestrator struct {
	Rec      Recorder
	Clock    clock.Clock
	IDs      clock.IDProvider
	Observer Observer

	// DefaultRetry applies to steps whose RetryPolicy is zero.
	DefaultRetry RetryPolicy

	workers chan struct{}
}

// NewOrchestrator constructs an orchestrator with the given worker-pool size
// for asynchronous execution.
func NewOrchestrator(rec Recorder, clk clock.Clock, ids clock.IDProvider, obs Observer, workers int) *Orchestrator {
	if workers < 1 {
		workers = 4
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Orchestrator{
		Rec:      rec,
		Clock:    clk,
		IDs:      ids,
		Observer: obs,
		workers:  make(chan struct{}, workers),
	}
}

// Execute runs the steps strictly in order and returns the terminal (or
// wedged) execution record.
//
// Outcomes:
//   - committed: every Do succeeded; error is nil.
//   - compensated: a Do failed and every executed step's Undo succeeded;
//     the returned error wraps the step failure.
//   - compensating (wedged): a Do failed and an Undo also failed; the
//     returned error wraps ErrCompensationFailed.
//
// There is no partial-success terminal state. Cancellation of ctx before the
// first step fails the saga with ErrCanceled; once executing, cancellation is
// translated into a failure of the current step and compensates normally.
func (o *Orchestrator) Execute(ctx context.Context, name, tenantID string, steps []Step) (*domain.SagaExecution, error) {
	for i := range steps {
		if err := steps[i].validate(i); err != nil {
			return nil, err
		}
	}

	started := o.Clock.Now()
	exec := &domain.SagaExecution{
		ID:         o.IDs.NewID(),
		Name:       name,
		TenantID:   tenantID,
		Status:     domain.SagaPending,
		TotalSteps: len(steps),
		StartedAt:  started,
	}
	if err := o.Rec.Create(ctx, exec); err != nil {
		return nil, err
	}

	res, err := o.run(ctx, exec, steps)
	o.observe(name, started, res)
	return res, err
}

// ExecuteAsync creates the pending execution record synchronously, then runs
// the saga on the worker pool. The returned id can be polled. The saga runs
// detached from the caller's cancellation: an abandoned HTTP request must not
// fail a half-executed saga.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, name, tenantID string, steps []Step) (string, error) {
	for i := range steps {
		if err := steps[i].validate(i); err != nil {
			return "", err
		}
	}

	started := o.Clock.Now()
	exec := &domain.SagaExecution{
		ID:         o.IDs.NewID(),
		Name:       name,
		TenantID:   tenantID,
		Status:     domain.SagaPending,
		TotalSteps: len(steps),
		StartedAt:  started,
	}
	if err := o.Rec.Create(ctx, exec); err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	o.workers <- struct{}{}
	go func() {
		defer func() { <-o.workers }()
		res, err := o.run(bg, exec, steps)
		if err != nil {
			log.Warn().Str("saga_id", exec.ID).Str("saga_name", name).Err(err).Msg("async saga finished with error")
		}
		o.observe(name, started, res)
	}()
	return exec.ID, nil
}

func (o *Orchestrator) observe(name string, started time.Time, exec *domain.SagaExecution) {
	if exec == nil {
		return
	}
	dur := o.Clock.Now().Sub(started).Milliseconds()
	switch exec.Status {
	case domain.SagaCommitted:
		o.Observer.RecordOutcome("saga."+name, true, dur, domain.FailureNone)
	case domain.SagaCompensated:
		o.Observer.RecordOutcome("saga."+name, false, dur, domain.FailureRollback)
	case domain.SagaCompensating:
		o.Observer.RecordOutcome("saga."+name, false, dur, domain.FailureCompensation)
	default:
		o.Observer.RecordOutcome("saga."+name, false, dur, domain.FailureGeneric)
	}
}

// run drives the saga state machine. It always persists the execution record
// after a state change before moving on.
func (o *Orchestrator) run(ctx context.Context, exec *domain.SagaExecution, steps []Step) (*domain.SagaExecution, error) {
	details := []domain.SagaStepRecord{}

	// A caller may cancel only while the saga is still pending. No step has
	// run, so there is nothing to compensate: the saga settles as failed
	// rather than pretending a rollback happened.
	if ctx.Err() != nil {
		exec.Status = domain.SagaFailed
		exec.LastError = ErrCanceled.Error()
		now := o.Clock.Now()
		exec.CompletedAt = &now
		if err := o.persist(ctx, exec, details); err != nil {
			return exec, err
		}
		return exec, ErrCanceled
	}

	exec.Status = domain.SagaExecuting
	if err := o.persist(ctx, exec, details); err != nil {
		return exec, err
	}

	for i := range steps {
		st := &steps[i]
		rec := domain.SagaStepRecord{
			Index:     i,
			Name:      st.Name,
			StartedAt: o.Clock.Now(),
		}

		before, err := o.snapshot(ctx, st)
		if err != nil {
			rec.Outcome = domain.StepFailed
			rec.Error = "snapshot: " + err.Error()
			rec.FinishedAt = o.Clock.Now()
			details = append(details, rec)
			return o.compensate(ctx, exec, details, steps, i, fmt.Errorf("step %q snapshot: %w", st.Name, err))
		}
		rec.Before = before
		details = append(details, rec)
		if err := o.persist(ctx, exec, details); err != nil {
			return exec, err
		}

		after, attempts, err := o.attempt(ctx, st)
		idx := len(details) - 1
		details[idx].Attempts = attempts
		details[idx].FinishedAt = o.Clock.Now()
		if err != nil {
			details[idx].Outcome = domain.StepFailed
			details[idx].Error = err.Error()
			return o.compensate(ctx, exec, details, steps, i, fmt.Errorf("step %q failed: %w", st.Name, err))
		}

		details[idx].After = after
		details[idx].Outcome = domain.StepSucceeded
		exec.ExecutedSteps = i + 1
		if err := o.persist(ctx, exec, details); err != nil {
			return exec, err
		}
	}

	exec.Status = domain.SagaCommitted
	now := o.Clock.Now()
	exec.CompletedAt = &now
	if err := o.persist(ctx, exec, details); err != nil {
		return exec, err
	}
	return exec, nil
}

func (o *Orchestrator) snapshot(ctx context.Context, st *Step) (json.RawMessage, error) {
	if st.Snapshot == nil {
		return nil, nil
	}
	sctx, cancel := o.stepContext(ctx, st)
	defer cancel()
	v, err := st.Snapshot(sctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// attempt invokes Do with the step's timeout and retries transient failures
// under the step's RetryPolicy.
func (o *Orchestrator) attempt(ctx context.Context, st *Step) (json.RawMessage, int, error) {
	policy := st.Retry
	if policy.MaxAttempts == 0 && policy.InitialBackoff == 0 {
		policy = o.DefaultRetry
	}
	maxTries := policy.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	attempts := 0
	op := func() (json.RawMessage, error) {
		attempts++
		sctx, cancel := o.stepContext(ctx, st)
		defer cancel()
		v, err := st.Do(sctx)
		if err != nil {
			if IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if v == nil {
			return nil, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("marshal after-state: %w", err))
		}
		return b, nil
	}

	expo := backoff.NewExponentialBackOff()
	if policy.InitialBackoff > 0 {
		expo.InitialInterval = policy.InitialBackoff
	}
	if policy.MaxBackoff > 0 {
		expo.MaxInterval = policy.MaxBackoff
	}

	after, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(maxTries)),
	)
	return after, attempts, err
}

// compensate walks the executed steps backward invoking Undo. A failed Undo
// leaves the saga in "compensating" with the failure recorded; that state is
// fatal and requires operator attention.
func (o *Orchestrator) compensate(ctx context.Context, exec *domain.SagaExecution, details []domain.SagaStepRecord, steps []Step, failedIdx int, cause error) (*domain.SagaExecution, error) {
	exec.Status = domain.SagaFailed
	exec.LastError = cause.Error()
	if err := o.persist(ctx, exec, details); err != nil {
		return exec, err
	}

	res, err := o.finishCompensated(ctx, exec, details, steps, failedIdx)
	if err != nil {
		return res, err
	}
	return res, cause
}

// finishCompensated undoes steps [0, executed) in reverse order and settles
// the saga in "compensated" (or leaves it wedged in "compensating").
func (o *Orchestrator) finishCompensated(ctx context.Context, exec *domain.SagaExecution, details []domain.SagaStepRecord, steps []Step, executed int) (*domain.SagaExecution, error) {
	exec.Status = domain.SagaCompensating
	if err := o.persist(ctx, exec, details); err != nil {
		return exec, err
	}

	for i := executed - 1; i >= 0; i-- {
		st := &steps[i]
		if st.NoCompensation {
			details[i].Outcome = domain.StepCompensated
			continue
		}

		// Compensation runs even when the caller's context is gone; a
		// half-undone saga is worse than a slow rollback.
		uctx, cancel := o.stepContext(context.WithoutCancel(ctx), st)
		err := st.Undo(uctx, details[i].Before)
		cancel()
		if err != nil {
			details[i].Outcome = domain.StepCompensationFailed
			details[i].Error = err.Error()
			exec.LastError = fmt.Sprintf("undo %q: %v", st.Name, err)
			_ = o.persist(ctx, exec, details)
			log.Error().
				Str("saga_id", exec.ID).
				Str("saga_name", exec.Name).
				Str("step", st.Name).
				Err(err).
				Msg("saga compensation failed, operator attention required")
			return exec, fmt.Errorf("%w: undo %q: %v", ErrCompensationFailed, st.Name, err)
		}
		details[i].Outcome = domain.StepCompensated
		exec.CompensatedSteps++
		if err := o.persist(ctx, exec, details); err != nil {
			return exec, err
		}
	}

	exec.Status = domain.SagaCompensated
	now := o.Clock.Now()
	exec.CompletedAt = &now
	if err := o.persist(ctx, exec, details); err != nil {
		return exec, err
	}
	return exec, nil
}

func (o *Orchestrator) stepContext(ctx context.Context, st *Step) (context.Context, context.CancelFunc) {
	if st.Timeout > 0 {
		return context.WithTimeout(ctx, st.Timeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) persist(ctx context.Context, exec *domain.SagaExecution, details []domain.SagaStepRecord) error {
	if err := exec.SetDetails(details); err != nil {
		return err
	}
	// Persistence must survive caller cancellation mid-compensation.
	return o.Rec.Update(context.WithoutCancel(ctx), exec)
}
