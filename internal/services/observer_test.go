package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/health"
	"github.com/fieldsync/go-sync-backend/internal/repo"
)

// scopedObserver captures RecordScoped calls for assertions.
type scopedObserver struct {
	mu      sync.Mutex
	ops     []string
	scopes  []string
	results []bool
	kinds   []string
}

func (o *scopedObserver) RecordScoped(op, scope string, success bool, _ int64, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
	o.scopes = append(o.scopes, scope)
	o.results = append(o.results, success)
	o.kinds = append(o.kinds, kind)
}

func (o *scopedObserver) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ops)
}

func TestTransitionService_ReportsOutcomes(t *testing.T) {
	s := newTransService(t)
	obs := &scopedObserver{}
	s.Obs = obs
	ctx := context.Background()

	e, err := s.Create(ctx, "t1", "task", "ASSIGNED")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Transition(ctx, "t1", e.ID, "task", "ASSIGNED", "INPROGRESS"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if obs.len() != 2 {
		t.Fatalf("outcomes = %v, want create + transition", obs.ops)
	}
	if obs.ops[0] != "create_entity" || obs.ops[1] != "transition_entity" {
		t.Fatalf("operations = %v", obs.ops)
	}
	for i := range obs.ops {
		if !obs.results[i] || obs.kinds[i] != domain.FailureNone || obs.scopes[i] != "t1" {
			t.Fatalf("outcome %d: success=%v kind=%q scope=%q", i, obs.results[i], obs.kinds[i], obs.scopes[i])
		}
	}
}

func TestTransitionService_StaleRejectionReportsRollback(t *testing.T) {
	s := newTransService(t)
	obs := &scopedObserver{}
	s.Obs = obs
	ctx := context.Background()

	e, err := s.Create(ctx, "t1", "task", "ASSIGNED")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Transition(ctx, "t1", e.ID, "task", "ASSIGNED", "INPROGRESS"); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if _, err := s.Transition(ctx, "t1", e.ID, "task", "ASSIGNED", "STANDBY"); !errors.Is(err, ErrStaleState) {
		t.Fatalf("stale transition: %v", err)
	}

	if obs.len() != 3 {
		t.Fatalf("outcomes = %v", obs.ops)
	}
	if obs.results[2] || obs.kinds[2] != domain.FailureRollback {
		t.Fatalf("stale rejection recorded as success=%v kind=%q, want rollback failure", obs.results[2], obs.kinds[2])
	}
}

func TestTransitionService_ValidationRejectionsNotRecorded(t *testing.T) {
	s := newTransService(t)
	obs := &scopedObserver{}
	s.Obs = obs
	ctx := context.Background()

	if _, err := s.Create(ctx, "t1", "invoice", "OPEN"); err == nil {
		t.Fatal("expected validation rejection")
	}
	if _, err := s.Transition(ctx, "t1", "x", "task", "ASSIGNED", "COMPLETED"); err == nil {
		t.Fatal("expected disallowed-pair rejection")
	}
	if obs.len() != 0 {
		t.Fatalf("outcomes = %v, input rejections must not count against health", obs.ops)
	}
}

func TestAdmit_ReportsOutcomes(t *testing.T) {
	s, _ := newIdemService(t)
	obs := &scopedObserver{}
	s.Obs = obs
	ctx := context.Background()

	if _, err := s.Admit(ctx, "k1", domain.ScopeUser, HashRequest([]byte(`{"a":1}`)), "entities.transition", 0); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := s.Admit(ctx, "k1", domain.ScopeUser, HashRequest([]byte(`{"a":2}`)), "entities.transition", 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("conflict admit: %v", err)
	}
	// Validation rejections stay invisible.
	if _, err := s.Admit(ctx, " ", domain.ScopeUser, "h", "e", 0); err == nil {
		t.Fatal("expected validation rejection")
	}

	if obs.len() != 2 {
		t.Fatalf("outcomes = %v", obs.ops)
	}
	if obs.ops[0] != "admit_request" || !obs.results[0] || obs.kinds[0] != domain.FailureNone {
		t.Fatalf("admission outcome: op=%q success=%v kind=%q", obs.ops[0], obs.results[0], obs.kinds[0])
	}
	if obs.results[1] || obs.kinds[1] != domain.FailureGeneric {
		t.Fatalf("conflict outcome: success=%v kind=%q", obs.results[1], obs.kinds[1])
	}
}

// A completed transition must land in the hour-bucket metric table when the
// service is wired to a real monitor, the way the router wires it.
func TestTransitionService_OutcomePersistsThroughMonitor(t *testing.T) {
	db := newSvcDB(t, &domain.Entity{}, &domain.TransactionOutcomeMetric{})
	clk := &tickClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := NewTransitionService(db, clk, clock.NewSystem())

	mon := health.NewMonitor(db, clk, health.DefaultThresholds(), nil, 16, 0)
	mon.Start()
	s.Obs = mon

	ctx := context.Background()
	e, err := s.Create(ctx, "t1", "task", "ASSIGNED")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Transition(ctx, "t1", e.ID, "task", "ASSIGNED", "INPROGRESS"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	mon.Stop() // drain the recorder before reading

	rows, err := repo.ListOutcomeMetrics(ctx, db, []repo.MetricBucket{repo.BucketFor(clk.Now())}, "transition_entity")
	if err != nil {
		t.Fatalf("list metrics: %v", err)
	}
	if len(rows) != 1 || rows[0].SuccessfulCommits != 1 || rows[0].TenantScope != "t1" {
		t.Fatalf("metric rows = %+v, want one successful transition for t1", rows)
	}
}
