// Package health implements the transaction health monitor. It consumes
// outcome events from the idempotency store, the transition service, and the
// saga orchestrator, aggregates them into per-operation hour buckets, and
// classifies each operation as healthy, degraded, or critical. Classification
// changes are alerted edge-triggered: a sustained bad state alerts once, not
// on every poll.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Status is the health classification of one operation.
type Status string

// Health classifications, ordered from best to worst.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

func rank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Alert describes a health classification transition for an operation.
type Alert struct {
	Operation string    `json:"operation"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Notifier delivers alerts to an external system (pager, chat, dashboard).
// Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// LogNotifier writes alerts to the structured log. It is the default when no
// external notifier is configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, a Alert) {
	ev := log.Warn()
	if a.To == StatusCritical {
		ev = log.Error()
	}
	ev.
		Str("operation", a.Operation).
		Str("from", string(a.From)).
		Str("to", string(a.To)).
		Str("reason", a.Reason).
		Msg("transaction health transition")
}
