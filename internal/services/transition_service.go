// Package services – TransitionService
//
// This file implements validated entity state transitions. Status strings are
// accepted at the boundary, normalized once on ingress, and checked against
// the entity type's transition table before anything is persisted. The write
// itself is guarded by the entity's version counter, so a caller operating on
// stale state is rejected rather than silently applied.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/repo"
	"github.com/fieldsync/go-sync-backend/internal/transition"
)

// TransitionService creates entities and applies validated status changes.
type TransitionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Registry holds the per-entity-type transition tables.
	Registry *transition.Registry
	// Clock stamps applied transitions.
	Clock clock.Clock
	// IDs generates entity identifiers.
	IDs clock.IDProvider
	// Obs, when set, receives the outcome of every attempted write.
	Obs Observer
}

// NewTransitionService constructs a TransitionService on the default registry.
func NewTransitionService(db *gorm.DB, clk clock.Clock, ids clock.IDProvider) *TransitionService {
	return &TransitionService{DB: db, Registry: transition.Default, Clock: clk, IDs: ids}
}

// normalizeStatus trims and upper-cases a boundary status string.
func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizeEntityType trims and lower-cases a boundary entity type string.
func normalizeEntityType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Create inserts a new entity with a validated initial status at version 1.
func (s *TransitionService) Create(ctx context.Context, tenantID, entityType, initialStatus string) (*domain.Entity, error) {
	entityType = normalizeEntityType(entityType)
	initialStatus = normalizeStatus(initialStatus)

	if !s.Registry.KnownEntityType(entityType) {
		return nil, &ValidationError{Field: "entity_type", Reason: "unrecognized entity type " + strconv.Quote(entityType)}
	}
	if !s.Registry.ValidInitialStatus(entityType, initialStatus) {
		return nil, &ValidationError{Field: "initial_status", Reason: strconv.Quote(initialStatus) + " is not a valid initial status for " + entityType}
	}

	start := s.Clock.Now()
	e := &domain.Entity{
		ID:            s.IDs.NewID(),
		TenantID:      tenantID,
		EntityType:    entityType,
		CurrentStatus: initialStatus,
	}
	err := repo.CreateEntity(ctx, s.DB, e)
	record(s.Obs, s.Clock, "create_entity", tenantID, start, err)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns the entity by id within the tenant.
func (s *TransitionService) Get(ctx context.Context, tenantID, id string) (*domain.Entity, error) {
	e, err := repo.GetEntity(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrEntityNotFound
	}
	return e, err
}

// Transition applies a validated status change. currentStatus is the status
// as last known by the caller; if the row has moved on since that read, the
// change is rejected with ErrStaleState and the caller re-reads and retries.
//
// A same-status request is an idempotent no-op: the row is returned unchanged
// and no write is issued.
func (s *TransitionService) Transition(ctx context.Context, tenantID, id, entityType, currentStatus, newStatus string) (*domain.Entity, error) {
	entityType = normalizeEntityType(entityType)
	currentStatus = normalizeStatus(currentStatus)
	newStatus = normalizeStatus(newStatus)

	if !s.Registry.KnownEntityType(entityType) {
		return nil, &ValidationError{Field: "entity_type", Reason: "unrecognized entity type " + strconv.Quote(entityType)}
	}
	if !s.Registry.IsTransitionAllowed(entityType, currentStatus, newStatus) {
		return nil, &TransitionError{
			EntityType:    entityType,
			CurrentStatus: currentStatus,
			NewStatus:     newStatus,
			AllowedNext:   s.Registry.AllowedNext(entityType, currentStatus),
		}
	}

	start := s.Clock.Now()
	e, err := s.apply(ctx, tenantID, id, entityType, currentStatus, newStatus)
	record(s.Obs, s.Clock, "transition_entity", tenantID, start, err)
	return e, err
}

// apply performs the read-check-write portion of Transition, after boundary
// validation has passed.
func (s *TransitionService) apply(ctx context.Context, tenantID, id, entityType, currentStatus, newStatus string) (*domain.Entity, error) {
	e, err := repo.GetEntity(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.EntityType != entityType {
		return nil, &ValidationError{Field: "entity_type", Reason: "entity " + id + " is a " + e.EntityType + ", not a " + entityType}
	}
	if e.CurrentStatus != currentStatus {
		// The caller's view predates another writer's transition.
		return nil, ErrStaleState
	}

	if currentStatus == newStatus {
		return e, nil
	}

	err = repo.ApplyTransition(ctx, s.DB, tenantID, id, newStatus, e.Version, s.Clock.Now())
	if errors.Is(err, repo.ErrStaleVersion) {
		return nil, ErrStaleState
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}

	e.CurrentStatus = newStatus
	e.Version++
	return e, nil
}
