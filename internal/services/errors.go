// Package services defines the business logic of the synchronization engine:
// idempotent admission of mutating requests and validated entity state
// transitions. This file centralizes the service-level error taxonomy so that
// callers can branch on error kinds and the HTTP layer can translate them into
// stable response codes.
//
// Taxonomy:
//   - ValidationError: malformed input (unknown scope, entity type, status).
//     Rejected locally, never retried.
//   - ErrConflict: idempotency key reused with a different payload. Distinct,
//     non-retryable; never silently overwritten.
//   - ErrStaleState: optimistic-concurrency rejection. The caller re-reads the
//     entity and retries with fresh state.
//   - TransitionError: a disallowed status pair, identifying exactly which
//     transition was rejected.
package services

import (
	"errors"
	"fmt"
)

// ErrConflict indicates an idempotency key was reused with a different
// request payload.
var ErrConflict = errors.New("idempotency key reused with different payload")

// ErrStaleState indicates a transition was attempted against a version or
// status that no longer matches the entity row.
var ErrStaleState = errors.New("entity state is stale, re-read and retry")

// ErrEntityNotFound indicates the target entity does not exist in the
// caller's tenant.
var ErrEntityNotFound = errors.New("entity not found")

// ErrSagaNotFound indicates the requested saga execution does not exist.
var ErrSagaNotFound = errors.New("saga execution not found")

// ValidationError reports malformed or unrecognized input. It is always
// rejected at the boundary and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransitionError identifies a rejected status transition by its exact
// disallowed pair, so clients never see a generic "bad request".
type TransitionError struct {
	EntityType    string
	CurrentStatus string
	NewStatus     string
	AllowedNext   []string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition not allowed for %s: %s -> %s",
		e.EntityType, e.CurrentStatus, e.NewStatus)
}
