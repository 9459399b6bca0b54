// Package saga implements the saga orchestrator: ordered multi-step changes
// with per-step before/after snapshots, bounded retries for transient
// failures, and reverse-order compensation on partial failure. Execution
// state is persisted after every step so recovery and stuck-saga detection
// survive process restarts.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds retries of a step's Do on transient failures. The retry
// boundary is per-step configuration, not a global default.
type RetryPolicy struct {
	// MaxAttempts caps total attempts including the first. Values < 1 mean
	// a single attempt with no retry.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; it grows
	// exponentially up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Step is one unit of work in a saga. Do produces the step's after-state;
// Undo restores the before-state captured by Snapshot. Undo is mandatory for
// any step with an observable side effect: a step with no meaningful
// compensation must set NoCompensation explicitly rather than leave Undo nil.
type Step struct {
	Name string
	// Timeout bounds one Do or Undo invocation. Zero means no step timeout.
	Timeout time.Duration
	// Retry applies to transient Do failures only. Zero value disables retry.
	Retry RetryPolicy
	// NoCompensation marks a step whose effects need no undo (e.g. pure reads
	// or naturally idempotent notifications).
	NoCompensation bool

	// Snapshot captures the before-state prior to Do; it is recorded in the
	// execution details and handed back to Undo during compensation. Optional
	// for steps whose Undo needs no context.
	Snapshot func(ctx context.Context) (any, error)
	Do       func(ctx context.Context) (any, error)
	Undo     func(ctx context.Context, before json.RawMessage) error
}

func (s *Step) validate(i int) error {
	if s.Name == "" {
		return fmt.Errorf("step %d: name is required", i)
	}
	if s.Do == nil {
		return fmt.Errorf("step %q: Do is required", s.Name)
	}
	if s.Undo == nil && !s.NoCompensation {
		return fmt.Errorf("step %q: Undo is required unless NoCompensation is set", s.Name)
	}
	return nil
}

// transientError marks a step failure as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err to mark it retryable under the step's RetryPolicy
// (lock timeouts, deadlocks, step-level infra failures). Unmarked errors
// trigger compensation immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
