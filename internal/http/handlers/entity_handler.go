// Entity HTTP handlers.
//
// This file exposes REST endpoints for synchronized entities:
//   - POST /entities                  (create, idempotent)
//   - GET  /entities/{id}             (fetch current status/version)
//   - POST /entities/{id}/transition  (validated status change, idempotent)
//
// Handlers are transport-thin: they validate input, run the idempotency
// admission protocol when the client supplies a key, call application
// services, and translate results into HTTP responses. Replayed requests are
// served the exact stored response bytes, marked with Idempotency-Replayed.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/health"
	"github.com/fieldsync/go-sync-backend/internal/http/middleware"
	"github.com/fieldsync/go-sync-backend/internal/saga"
	"github.com/fieldsync/go-sync-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// EntityService defines entity lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EntityService interface {
	// Create inserts a new entity with a validated initial status.
	Create(ctx context.Context, tenantID, entityType, initialStatus string) (*domain.Entity, error)
	// Get returns the entity by id within the tenant.
	Get(ctx context.Context, tenantID, id string) (*domain.Entity, error)
	// Transition applies a validated status change guarded by the caller's
	// last-known status.
	Transition(ctx context.Context, tenantID, id, entityType, currentStatus, newStatus string) (*domain.Entity, error)
}

// AdmissionService defines the idempotency admission protocol for mutating
// requests: admit once, commit the response, replay duplicates.
type AdmissionService interface {
	Admit(ctx context.Context, key, scope, requestHash, endpoint string, ttl time.Duration) (services.AdmissionResult, error)
	Commit(ctx context.Context, key, scope string, snapshot []byte) error
}

// SagaService defines multi-step orchestration operations.
type SagaService interface {
	Run(ctx context.Context, name, tenantID string, params json.RawMessage) (*domain.SagaExecution, error)
	RunAsync(ctx context.Context, name, tenantID string, params json.RawMessage) (string, error)
	Get(ctx context.Context, id string) (*domain.SagaExecution, error)
	List(ctx context.Context, status string, page, pageSize int) ([]domain.SagaExecution, int64, error)
	Stuck(ctx context.Context, olderThan time.Duration, limit int) ([]domain.SagaExecution, error)
}

// HealthService evaluates per-operation transaction health over a window.
type HealthService interface {
	Snapshot(ctx context.Context, window time.Duration) ([]health.OperationHealth, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for entities, sagas, and transaction health.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	entitySvc EntityService
	admitSvc  AdmissionService
	sagaSvc   SagaService
	healthSvc HealthService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(entitySvc EntityService, admitSvc AdmissionService, sagaSvc SagaService, healthSvc HealthService) *Handlers {
	return &Handlers{entitySvc: entitySvc, admitSvc: admitSvc, sagaSvc: sagaSvc, healthSvc: healthSvc}
}

// tenantID extracts the tenant from Gin context (set by upstream middleware).
// If absent, it falls back to the "X-Tenant-ID" header (tests use it), and
// finally to "demo-tenant". It never touches c.Request if it's nil.
func tenantID(c *gin.Context) string {
	if v, ok := c.Get("tenantID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Tenant-ID")); h != "" {
			return h
		}
	}
	return "demo-tenant"
}

//
// DTOs
//

// CreateEntityRequest is the JSON payload for creating an entity.
type CreateEntityRequest struct {
	// EntityType selects the transition table ("task", "ticket", "onboarding").
	EntityType string `json:"entity_type" binding:"required" example:"task"`
	// InitialStatus is the entity's starting status; case-insensitive.
	InitialStatus string `json:"initial_status" binding:"required" example:"ASSIGNED"`
}

// TransitionRequest is the JSON payload for applying a status change.
type TransitionRequest struct {
	// EntityType must match the entity's stored type.
	EntityType string `json:"entity_type" binding:"required" example:"task"`
	// CurrentStatus is the status as last read by the caller; a mismatch with
	// the stored row is rejected as stale.
	CurrentStatus string `json:"current_status" binding:"required" example:"ASSIGNED"`
	// NewStatus is the requested target status.
	NewStatus string `json:"new_status" binding:"required" example:"INPROGRESS"`
}

//
// Idempotent execution
//

// HeaderIdempotencyReplayed marks a response served from the dedup store
// rather than fresh execution.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// runIdempotent executes fn under the admission protocol when the request
// carries an Idempotency-Key; without a key, fn runs directly.
//
// The committed snapshot is the exact bytes written on first execution, so a
// replay is byte-identical to the original response.
func (h *Handlers) runIdempotent(c *gin.Context, endpoint string, body []byte, successStatus int, fn func() (any, error)) {
	ctx := c.Request.Context()

	key, hasKey := middleware.GetIdempotencyKey(c)
	if !hasKey {
		result, err := fn()
		if err != nil {
			h.failFromService(c, err)
			return
		}
		ok(c, successStatus, result)
		return
	}

	scope := middleware.GetIdempotencyScope(c)
	res, err := h.admitSvc.Admit(ctx, key, scope, services.HashRequest(body), endpoint, 0)
	if errors.Is(err, services.ErrConflict) {
		fail(c, http.StatusConflict, ErrCodeConflict, "idempotency key reused with a different payload")
		return
	}
	if err != nil {
		h.failFromService(c, err)
		return
	}

	switch res.Outcome {
	case services.OutcomeDuplicate:
		if res.Pending {
			c.Header("Retry-After", "1")
			fail(c, http.StatusConflict, ErrCodeRequestInFlight, "original request still executing, retry shortly")
			return
		}
		c.Header(HeaderIdempotencyReplayed, "true")
		c.Data(successStatus, "application/json; charset=utf-8", res.Snapshot)
		return

	case services.OutcomeAdmitted:
		result, err := fn()
		if err != nil {
			// The record stays uncommitted; a retry with the same key is
			// admitted again once the TTL reclaims it, or surfaces as
			// in-flight meanwhile. Business errors map as usual.
			h.failFromService(c, err)
			return
		}
		snapshot, err := json.Marshal(result)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "encode response")
			return
		}
		if err := h.admitSvc.Commit(ctx, key, scope, snapshot); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Error().Err(err).Str("endpoint", endpoint).Msg("commit idempotency snapshot")
		}
		c.Header(HeaderIdempotencyReplayed, "false")
		c.Data(successStatus, "application/json; charset=utf-8", snapshot)
		return

	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "idempotency admission did not settle")
	}
}

// failFromService translates the service-level error taxonomy into stable
// HTTP statuses and codes.
func (h *Handlers) failFromService(c *gin.Context, err error) {
	var ve *services.ValidationError
	var te *services.TransitionError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Error())
	case errors.As(err, &te):
		msg := te.Error()
		if len(te.AllowedNext) > 0 {
			msg += "; allowed: " + strings.Join(te.AllowedNext, ", ")
		}
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, msg)
	case errors.Is(err, services.ErrStaleState):
		fail(c, http.StatusConflict, ErrCodeStaleState, services.ErrStaleState.Error())
	case errors.Is(err, services.ErrEntityNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "entity not found")
	case errors.Is(err, services.ErrSagaNotFound), errors.Is(err, saga.ErrUnknownSaga):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, saga.ErrCompensationFailed):
		fail(c, http.StatusInternalServerError, ErrCodeCompensationFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// CreateEntity handles POST /entities.
//
// With an Idempotency-Key header, retries of the same payload replay the
// originally created entity instead of creating a second one.
func (h *Handlers) CreateEntity(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}
	var req CreateEntityRequest
	if err := json.Unmarshal(body, &req); err != nil || req.EntityType == "" || req.InitialStatus == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity_type and initial_status are required")
		return
	}

	tenant := tenantID(c)
	h.runIdempotent(c, "create_entity", body, http.StatusCreated, func() (any, error) {
		return h.entitySvc.Create(c.Request.Context(), tenant, req.EntityType, req.InitialStatus)
	})
}

// GetEntity handles GET /entities/:id.
func (h *Handlers) GetEntity(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity id must be a UUID")
		return
	}

	e, err := h.entitySvc.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		h.failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, e)
}

// TransitionEntity handles POST /entities/:id/transition.
//
// The caller states both the status it last read and the target status; a
// mismatch with the stored row (either the status or the version guard) is
// rejected as stale so the caller re-reads and retries.
func (h *Handlers) TransitionEntity(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity id must be a UUID")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}
	var req TransitionRequest
	if err := json.Unmarshal(body, &req); err != nil || req.EntityType == "" || req.CurrentStatus == "" || req.NewStatus == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "entity_type, current_status and new_status are required")
		return
	}

	tenant := tenantID(c)
	h.runIdempotent(c, "transition_entity", body, http.StatusOK, func() (any, error) {
		return h.entitySvc.Transition(c.Request.Context(), tenant, id, req.EntityType, req.CurrentStatus, req.NewStatus)
	})
}
