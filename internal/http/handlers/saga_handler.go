// Saga HTTP handlers.
//
// This file exposes REST endpoints for multi-step orchestrated changes:
//   - POST /sagas/{name}   (execute; ?mode=async schedules on the worker pool)
//   - GET  /sagas/{id}     (inspect one execution, including step details)
//   - GET  /sagas          (list, paginated; ?status= filter; ?stuck=true)
//
// A synchronous execution returns the terminal record with a status code that
// reflects the outcome: 201 committed, 409 rolled back, 500 wedged in
// compensation. Asynchronous submissions return 202 with the id to poll.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/saga"
	"github.com/fieldsync/go-sync-backend/internal/utils"
)

// RunSagaRequest is the JSON payload for executing a named saga. Params are
// passed through to the saga's builder untouched.
type RunSagaRequest struct {
	Params json.RawMessage `json:"params"`
}

// SagaResponse wraps a persisted execution with its decoded step details.
type SagaResponse struct {
	domain.SagaExecution
	Steps []domain.SagaStepRecord `json:"steps"`
}

// ListSagasResponse wraps a page of executions and pagination information.
type ListSagasResponse struct {
	Sagas      []SagaResponse `json:"sagas"`
	Pagination Pagination     `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func sagaResponse(exec *domain.SagaExecution) SagaResponse {
	steps, err := exec.Details()
	if err != nil {
		steps = []domain.SagaStepRecord{}
	}
	return SagaResponse{SagaExecution: *exec, Steps: steps}
}

// RunSaga handles POST /sagas/:name.
//
// With ?mode=async the saga is validated, persisted as pending, and executed
// on the worker pool; the response is 202 with the execution id. Otherwise the
// call blocks until the saga commits, compensates, or wedges.
func (h *Handlers) RunSaga(c *gin.Context) {
	name := c.Param("name")

	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}
	var req RunSagaRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	tenant := tenantID(c)
	ctx := c.Request.Context()

	if c.Query("mode") == "async" {
		id, err := h.sagaSvc.RunAsync(ctx, name, tenant, req.Params)
		if err != nil {
			h.failFromService(c, err)
			return
		}
		ok(c, http.StatusAccepted, gin.H{"saga_id": id, "status": domain.SagaPending})
		return
	}

	exec, err := h.sagaSvc.Run(ctx, name, tenant, req.Params)
	if err != nil && exec == nil {
		h.failFromService(c, err)
		return
	}

	resp := sagaResponse(exec)
	switch exec.Status {
	case domain.SagaCommitted:
		ok(c, http.StatusCreated, resp)
	case domain.SagaCompensated:
		// The change was rejected and fully rolled back; surface both the
		// failure code and the execution record so clients see what ran.
		c.JSON(http.StatusConflict, gin.H{
			"code":    ErrCodeSagaRolledBack,
			"message": exec.LastError,
			"saga":    resp,
		})
	case domain.SagaCompensating:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    ErrCodeCompensationFailed,
			"message": exec.LastError,
			"saga":    resp,
		})
	default:
		if errors.Is(err, saga.ErrCanceled) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    ErrCodeSagaRolledBack,
				"message": saga.ErrCanceled.Error(),
				"saga":    resp,
			})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, exec.LastError)
	}
}

// GetSaga handles GET /sagas/:id.
func (h *Handlers) GetSaga(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "saga id must be a UUID")
		return
	}

	exec, err := h.sagaSvc.Get(c.Request.Context(), id)
	if err != nil {
		h.failFromService(c, err)
		return
	}
	ok(c, http.StatusOK, sagaResponse(exec))
}

// ListSagas handles GET /sagas.
//
// Query params: status (filter), page, page_size, stuck=true with optional
// older_than (duration, default 15m) to list non-terminal executions needing
// attention instead of the regular page.
func (h *Handlers) ListSagas(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("stuck") == "true" {
		olderThan := 15 * time.Minute
		if raw := c.Query("older_than"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, "older_than must be a positive duration")
				return
			}
			olderThan = d
		}
		_, limit := clampPagination(c)
		stuck, err := h.sagaSvc.Stuck(ctx, olderThan, limit)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
			return
		}
		out := make([]SagaResponse, 0, len(stuck))
		for i := range stuck {
			out = append(out, sagaResponse(&stuck[i]))
		}
		ok(c, http.StatusOK, gin.H{"sagas": out, "older_than": olderThan.String()})
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.sagaSvc.List(ctx, c.Query("status"), page, pageSize)
	if err != nil {
		h.failFromService(c, err)
		return
	}

	out := make([]SagaResponse, 0, len(items))
	for i := range items {
		out = append(out, sagaResponse(&items[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListSagasResponse{
		Sagas: out,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
