package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/cache"
	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/repo"
)

var (
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_engine_outcomes_total",
			Help: "Transaction outcomes recorded, by operation and result.",
		},
		[]string{"operation", "result"},
	)
	outcomeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_engine_operation_duration_seconds",
			Help:    "Duration of recorded operations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	outcomesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_engine_outcomes_dropped_total",
			Help: "Outcome events dropped because the recorder buffer was full.",
		},
	)
	operationHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_engine_operation_health",
			Help: "Current health classification per operation (0 healthy, 1 degraded, 2 critical).",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(outcomesTotal, outcomeDuration, outcomesDropped, operationHealth)
}

// Thresholds configure the health classification of an operation over the
// evaluation window.
type Thresholds struct {
	// DegradedFailureRate is the failure rate at or above which an operation
	// is degraded.
	DegradedFailureRate float64
	// CriticalFailureRate is the failure rate at or above which an operation
	// is critical.
	CriticalFailureRate float64
	// MaxInfraErrors is the number of deadlocks plus timeouts above which an
	// operation is critical regardless of its failure rate.
	MaxInfraErrors int64
	// MinSamples suppresses classification below this many attempts, so a
	// single failed call out of one does not page anyone.
	MinSamples int64
}

// DefaultThresholds are used when the configuration leaves them unset.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedFailureRate: 0.05,
		CriticalFailureRate: 0.25,
		MaxInfraErrors:      10,
		MinSamples:          5,
	}
}

// OperationHealth is the evaluated state of one operation over a window.
type OperationHealth struct {
	Operation         string  `json:"operation"`
	Status            Status  `json:"status"`
	TotalAttempts     int64   `json:"total_attempts"`
	SuccessfulCommits int64   `json:"successful_commits"`
	FailedCommits     int64   `json:"failed_commits"`
	Rollbacks         int64   `json:"rollbacks"`
	Deadlocks         int64   `json:"deadlocks"`
	Timeouts          int64   `json:"timeouts"`
	FailureRate       float64 `json:"failure_rate"`
	AvgDurationMs     int64   `json:"avg_duration_ms"`
	MaxDurationMs     int64   `json:"max_duration_ms"`
}

type outcomeEvent struct {
	operation   string
	tenantScope string
	success     bool
	durationMs  int64
	failureKind string
	at          time.Time
}

// Monitor is the transaction health monitor. Recording is asynchronous: an
// event goes onto a bounded channel and a single worker folds it into the
// hour-bucket table, so the hot path of every operation stays a channel send.
// When the buffer is full the event is dropped and counted, never blocked on.
//
// Monitor implements the orchestrator's Observer interface.
type Monitor struct {
	db       *gorm.DB
	clk      clock.Clock
	th       Thresholds
	notifier Notifier

	ch   chan outcomeEvent
	done chan struct{}

	mu      sync.Mutex
	started bool
	last    map[string]Status

	snapshots *cache.TTL[string, []OperationHealth]
}

// NewMonitor constructs a monitor with the given event buffer size and
// snapshot cache lifetime. A nil notifier falls back to LogNotifier.
func NewMonitor(db *gorm.DB, clk clock.Clock, th Thresholds, notifier Notifier, buffer int, snapshotTTL time.Duration) *Monitor {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Monitor{
		db:        db,
		clk:       clk,
		th:        th,
		notifier:  notifier,
		ch:        make(chan outcomeEvent, buffer),
		done:      make(chan struct{}),
		last:      make(map[string]Status),
		snapshots: cache.NewTTL[string, []OperationHealth](snapshotTTL),
	}
}

// Start launches the recorder worker. Calling it twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.loop()
}

// Stop closes the event channel and waits for buffered events to drain.
// Without a prior Start it returns immediately.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return
	}
	close(m.ch)
	<-m.done
}

// RecordOutcome implements the orchestrator's Observer. Outcomes without a
// tenant scope land in the shared bucket.
func (m *Monitor) RecordOutcome(operation string, success bool, durationMs int64, failureKind string) {
	m.RecordScoped(operation, "", success, durationMs, failureKind)
}

// RecordScoped records an outcome attributed to a tenant scope. It never
// blocks the caller.
func (m *Monitor) RecordScoped(operation, tenantScope string, success bool, durationMs int64, failureKind string) {
	ev := outcomeEvent{
		operation:   operation,
		tenantScope: tenantScope,
		success:     success,
		durationMs:  durationMs,
		failureKind: failureKind,
		at:          m.clk.Now(),
	}
	select {
	case m.ch <- ev:
	default:
		outcomesDropped.Inc()
		log.Warn().Str("operation", operation).Msg("health outcome dropped, recorder buffer full")
	}
}

func (m *Monitor) loop() {
	defer close(m.done)
	for ev := range m.ch {
		m.consume(ev)
	}
}

func (m *Monitor) consume(ev outcomeEvent) {
	result := "success"
	if !ev.success {
		result = "failure"
	}
	outcomesTotal.WithLabelValues(ev.operation, result).Inc()
	outcomeDuration.WithLabelValues(ev.operation).Observe(float64(ev.durationMs) / 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repo.UpsertOutcome(ctx, m.db, ev.operation, ev.tenantScope, ev.at, ev.success, ev.failureKind, ev.durationMs); err != nil {
		log.Error().Err(err).Str("operation", ev.operation).Msg("persist health outcome")
	}

	// A failed compensation means the system holds partially-applied state
	// that no automatic path will repair. That alerts immediately, without
	// waiting for the next snapshot evaluation.
	if ev.failureKind == domain.FailureCompensation {
		m.raiseCritical(ctx, ev.operation, "saga compensation failed, manual intervention required")
	}
}

func (m *Monitor) raiseCritical(ctx context.Context, operation, reason string) {
	m.mu.Lock()
	prev := m.last[operation]
	if prev == "" {
		prev = StatusHealthy
	}
	fire := prev != StatusCritical
	m.last[operation] = StatusCritical
	m.mu.Unlock()

	operationHealth.WithLabelValues(operation).Set(float64(rank(StatusCritical)))
	if fire {
		m.notifier.Notify(ctx, Alert{
			Operation: operation,
			From:      prev,
			To:        StatusCritical,
			Reason:    reason,
			At:        m.clk.Now(),
		})
	}
}

// Snapshot evaluates every operation seen in the given window and returns its
// classification, worst first. Results are memoized per window for the
// configured cache lifetime. State transitions discovered during evaluation
// are alerted edge-triggered: an operation that stays critical across
// consecutive snapshots alerts once, when it first turns critical.
func (m *Monitor) Snapshot(ctx context.Context, window time.Duration) ([]OperationHealth, error) {
	key := window.String()
	if cached, ok := m.snapshots.Get(key); ok {
		return cached, nil
	}

	now := m.clk.Now()
	rows, err := repo.ListOutcomeMetrics(ctx, m.db, repo.BucketsSince(now.Add(-window), now), "")
	if err != nil {
		return nil, fmt.Errorf("load outcome metrics: %w", err)
	}

	agg := make(map[string]*OperationHealth)
	order := make([]string, 0)
	maxDur := make(map[string]int64)
	totalDur := make(map[string]int64)
	for i := range rows {
		r := &rows[i]
		h, ok := agg[r.OperationName]
		if !ok {
			h = &OperationHealth{Operation: r.OperationName}
			agg[r.OperationName] = h
			order = append(order, r.OperationName)
		}
		h.TotalAttempts += r.TotalAttempts
		h.SuccessfulCommits += r.SuccessfulCommits
		h.FailedCommits += r.FailedCommits
		h.Rollbacks += r.Rollbacks
		h.Deadlocks += r.Deadlocks
		h.Timeouts += r.Timeouts
		totalDur[r.OperationName] += r.TotalDurationMs
		if r.MaxDurationMs > maxDur[r.OperationName] {
			maxDur[r.OperationName] = r.MaxDurationMs
		}
	}

	out := make([]OperationHealth, 0, len(agg))
	for _, op := range order {
		h := agg[op]
		if h.TotalAttempts > 0 {
			h.FailureRate = float64(h.FailedCommits) / float64(h.TotalAttempts)
			h.AvgDurationMs = totalDur[op] / h.TotalAttempts
		}
		h.MaxDurationMs = maxDur[op]
		h.Status = m.classify(h)
		m.transition(ctx, h)
		out = append(out, *h)
	}
	sortByStatus(out)

	m.snapshots.Set(key, out)
	return out, nil
}

func (m *Monitor) classify(h *OperationHealth) Status {
	if h.TotalAttempts < m.th.MinSamples {
		return StatusHealthy
	}
	if h.Deadlocks+h.Timeouts > m.th.MaxInfraErrors {
		return StatusCritical
	}
	if h.FailureRate >= m.th.CriticalFailureRate {
		return StatusCritical
	}
	if h.FailureRate >= m.th.DegradedFailureRate {
		return StatusDegraded
	}
	return StatusHealthy
}

// transition records the operation's new classification and alerts on any
// worsening edge. Recoveries update state and the gauge silently.
func (m *Monitor) transition(ctx context.Context, h *OperationHealth) {
	m.mu.Lock()
	prev, seen := m.last[h.Operation]
	if !seen {
		prev = StatusHealthy
	}
	m.last[h.Operation] = h.Status
	m.mu.Unlock()

	operationHealth.WithLabelValues(h.Operation).Set(float64(rank(h.Status)))
	if rank(h.Status) <= rank(prev) {
		return
	}
	reason := fmt.Sprintf("failure rate %.1f%% over %d attempts", h.FailureRate*100, h.TotalAttempts)
	if h.Deadlocks+h.Timeouts > m.th.MaxInfraErrors {
		reason = fmt.Sprintf("%d deadlocks and %d timeouts over %d attempts", h.Deadlocks, h.Timeouts, h.TotalAttempts)
	}
	m.notifier.Notify(ctx, Alert{
		Operation: h.Operation,
		From:      prev,
		To:        h.Status,
		Reason:    reason,
		At:        m.clk.Now(),
	})
}

func sortByStatus(hs []OperationHealth) {
	sort.Slice(hs, func(i, j int) bool {
		if rank(hs[i].Status) != rank(hs[j].Status) {
			return rank(hs[i].Status) > rank(hs[j].Status)
		}
		return hs[i].Operation < hs[j].Operation
	})
}
