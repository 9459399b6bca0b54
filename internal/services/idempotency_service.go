// Package services – IdempotencyService
//
// This file implements the idempotency store's admission protocol. Every
// mutating request passes through Admit before any business logic runs:
// the first request for a (key, scope) pair is admitted and later commits its
// response snapshot; retries replay the stored snapshot; a key reused with a
// different payload is a conflict. Admission is anchored on the storage-level
// unique constraint, never on check-then-insert, so at-most-one admission
// holds under concurrent retries and across process restarts.
package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/repo"
)

// Admission outcomes.
const (
	// OutcomeAdmitted: no prior record; the caller proceeds with business
	// logic and must call Commit with the produced response.
	OutcomeAdmitted = "admitted"
	// OutcomeDuplicate: a prior record with the same payload exists; the
	// caller must not re-execute business logic.
	OutcomeDuplicate = "duplicate"
	// OutcomeConflict: the key was reused with a different payload.
	OutcomeConflict = "conflict"
)

// AdmissionResult is the outcome of an Admit call.
type AdmissionResult struct {
	Outcome string
	// Snapshot is the previously stored response for duplicates; nil for a
	// still-in-flight winner (Pending true).
	Snapshot []byte
	// Pending marks a duplicate whose winning request has not committed yet.
	// The caller should retry shortly rather than re-execute.
	Pending bool
}

// IdempotencyService owns admission, commit, and replay of mutating requests.
type IdempotencyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Clock supplies the time used for expiry decisions.
	Clock clock.Clock
	// IDs generates record identifiers.
	IDs clock.IDProvider
	// DefaultTTL applies when a caller passes a non-positive ttl.
	DefaultTTL time.Duration
	// Obs, when set, receives the outcome of every settled admission.
	Obs Observer
}

// NewIdempotencyService constructs an IdempotencyService.
func NewIdempotencyService(db *gorm.DB, clk clock.Clock, ids clock.IDProvider, defaultTTL time.Duration) *IdempotencyService {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &IdempotencyService{DB: db, Clock: clk, IDs: ids, DefaultTTL: defaultTTL}
}

// HashRequest derives the request fingerprint from the normalized body. JSON
// bodies are compacted first so formatting differences between retries do not
// masquerade as different payloads. The hash is always computed server-side,
// never trusted from the client.
func HashRequest(body []byte) string {
	var buf bytes.Buffer
	if json.Valid(body) {
		if err := json.Compact(&buf, body); err == nil {
			body = buf.Bytes()
		}
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Admit decides whether the request identified by (key, scope) may execute.
// Expired records are treated as absent and reclaimed in place. The loop
// around insert/reclaim re-reads on lost races, so every caller lands on
// exactly one of the three outcomes.
func (s *IdempotencyService) Admit(ctx context.Context, key, scope, requestHash, endpoint string, ttl time.Duration) (AdmissionResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return AdmissionResult{}, &ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}
	if !domain.ValidScope(scope) {
		return AdmissionResult{}, &ValidationError{Field: "scope", Reason: "must be one of: user, device, task"}
	}
	if requestHash == "" {
		return AdmissionResult{}, &ValidationError{Field: "request_hash", Reason: "must not be empty"}
	}
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}

	start := s.Clock.Now()
	res, err := s.admit(ctx, key, scope, requestHash, endpoint, ttl)
	record(s.Obs, s.Clock, "admit_request", "", start, err)
	return res, err
}

func (s *IdempotencyService) admit(ctx context.Context, key, scope, requestHash, endpoint string, ttl time.Duration) (AdmissionResult, error) {
	// Two rounds are enough: a lost insert or reclaim means a live record
	// exists, and the re-read settles duplicate vs conflict.
	for attempt := 0; attempt < 2; attempt++ {
		now := s.Clock.Now()

		rec, err := repo.GetIdempotencyRecord(ctx, s.DB, key, scope)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			createErr := repo.CreateIdempotencyRecord(ctx, s.DB, &domain.IdempotencyRecord{
				ID:             s.IDs.NewID(),
				IdempotencyKey: key,
				Scope:          scope,
				RequestHash:    requestHash,
				Endpoint:       endpoint,
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
			})
			if createErr == nil {
				return AdmissionResult{Outcome: OutcomeAdmitted}, nil
			}
			if !errors.Is(createErr, repo.ErrDuplicate) {
				return AdmissionResult{}, createErr
			}
			continue // lost the insert race, re-read

		case err != nil:
			return AdmissionResult{}, err
		}

		if rec.Expired(now) {
			won, err := repo.ReclaimExpiredIdempotency(ctx, s.DB, key, scope, requestHash, endpoint, now, ttl)
			if err != nil {
				return AdmissionResult{}, err
			}
			if won {
				return AdmissionResult{Outcome: OutcomeAdmitted}, nil
			}
			continue // lost the reclaim race, re-read
		}

		if rec.RequestHash != requestHash {
			return AdmissionResult{Outcome: OutcomeConflict}, ErrConflict
		}

		if err := repo.TouchIdempotencyHit(ctx, s.DB, key, scope, now); err != nil {
			return AdmissionResult{}, err
		}
		return AdmissionResult{
			Outcome:  OutcomeDuplicate,
			Snapshot: rec.ResponseSnapshot,
			Pending:  !rec.Committed(),
		}, nil
	}

	return AdmissionResult{}, errors.New("idempotency admission did not settle")
}

// Commit persists the response snapshot for a previously admitted request so
// that future duplicates replay it unchanged.
func (s *IdempotencyService) Commit(ctx context.Context, key, scope string, snapshot []byte) error {
	return repo.CommitIdempotencyResponse(ctx, s.DB, key, scope, snapshot, s.Clock.Now())
}
