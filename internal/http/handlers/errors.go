// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, not_found, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_transition, stale_state) identify
//     business rejections that clients handle differently: a stale_state is
//     retried after a re-read, an invalid_transition never is.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "stale_state",
//	  "message": "entity state is stale, re-read and retry"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:

	// ErrCodeInvalidTransition rejects a status pair the entity's transition
	// table does not permit. Not retryable.
	ErrCodeInvalidTransition = "invalid_transition"
	// ErrCodeStaleState rejects a write based on an outdated read. The client
	// re-reads the entity and retries.
	ErrCodeStaleState = "stale_state"
	// ErrCodeRequestInFlight marks a duplicate whose original request has not
	// committed its response yet. The client retries shortly.
	ErrCodeRequestInFlight = "request_in_flight"
	// ErrCodeSagaRolledBack reports a saga that failed and compensated cleanly.
	ErrCodeSagaRolledBack = "saga_rolled_back"
	// ErrCodeCompensationFailed reports a saga wedged mid-compensation; the
	// system holds partially-applied state pending operator action.
	ErrCodeCompensationFailed = "compensation_failed"
	ErrCodeListFailed         = "list_failed"
)
