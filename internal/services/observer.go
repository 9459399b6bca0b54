package services

import (
	"context"
	"errors"
	"time"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// Observer receives the outcome of every attempted mutation a service
// performs. The transaction health monitor implements it; a nil Obs field on
// a service disables recording entirely.
type Observer interface {
	RecordScoped(operation, tenantScope string, success bool, durationMs int64, failureKind string)
}

// record reports one outcome to the observer. Only work that reached the
// store is recorded; callers skip it for requests rejected during input
// validation, so malformed payloads do not drag down an operation's failure
// rate.
func record(obs Observer, clk clock.Clock, operation, tenantScope string, start time.Time, err error) {
	if obs == nil {
		return
	}
	dur := clk.Now().Sub(start).Milliseconds()
	obs.RecordScoped(operation, tenantScope, err == nil, dur, failureKind(err))
}

// failureKind classifies an error into the monitor's outcome buckets. A stale
// state rejection counts as a rollback: the write was refused to protect
// consistency, not because the request was malformed.
func failureKind(err error) string {
	switch {
	case err == nil:
		return domain.FailureNone
	case errors.Is(err, ErrStaleState):
		return domain.FailureRollback
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	default:
		return domain.FailureGeneric
	}
}
