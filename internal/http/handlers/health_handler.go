// Transaction health HTTP handler.
//
// GET /health/transactions evaluates every operation seen in the requested
// window and reports its classification. The overall status is the worst
// individual one, so dashboards and probes can branch on a single field.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldsync/go-sync-backend/internal/health"
)

// TransactionHealthResponse is the payload of GET /health/transactions.
type TransactionHealthResponse struct {
	Window     string                   `json:"window"`
	Status     health.Status            `json:"status"`
	Operations []health.OperationHealth `json:"operations"`
}

// TransactionHealth handles GET /health/transactions.
//
// The window query param accepts a Go duration (default 1h, capped at 7 days
// to bound the bucket scan).
func (h *Handlers) TransactionHealth(c *gin.Context) {
	window := time.Hour
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	if window > 7*24*time.Hour {
		window = 7 * 24 * time.Hour
	}

	ops, err := h.healthSvc.Snapshot(c.Request.Context(), window)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	overall := health.StatusHealthy
	if len(ops) > 0 {
		// Snapshot sorts worst first.
		overall = ops[0].Status
	}
	ok(c, http.StatusOK, TransactionHealthResponse{
		Window:     window.String(),
		Status:     overall,
		Operations: ops,
	})
}
