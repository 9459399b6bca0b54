package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/services"
)

func newSagaDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Entity{}, &domain.SagaExecution{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTaskHandover_CommitsBothTransitions(t *testing.T) {
	db := newSagaDB(t)
	ts := services.NewTransitionService(db, clock.NewSystem(), clock.NewSystem())
	ctx := context.Background()

	task, err := ts.Create(ctx, "t1", "task", "ASSIGNED")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := ts.Transition(ctx, "t1", task.ID, "task", "ASSIGNED", "INPROGRESS"); err != nil {
		t.Fatalf("move task in progress: %v", err)
	}
	ticket, err := ts.Create(ctx, "t1", "ticket", "OPEN")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	for _, mv := range [][2]string{{"OPEN", "TRIAGED"}, {"TRIAGED", "INPROGRESS"}} {
		if _, err := ts.Transition(ctx, "t1", ticket.ID, "ticket", mv[0], mv[1]); err != nil {
			t.Fatalf("move ticket %v: %v", mv, err)
		}
	}

	reg := NewRegistry()
	RegisterBuiltinSagas(reg, ts)
	params, _ := json.Marshal(map[string]string{"task_id": task.ID, "ticket_id": ticket.ID})
	steps, err := reg.Build("task_handover", "t1", params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	o := NewOrchestrator(GormRecorder{DB: db}, clock.NewSystem(), clock.NewSystem(), nil, 2)
	exec, err := o.Execute(ctx, "task_handover", "t1", steps)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != domain.SagaCommitted {
		t.Fatalf("status = %s", exec.Status)
	}

	gotTask, _ := ts.Get(ctx, "t1", task.ID)
	gotTicket, _ := ts.Get(ctx, "t1", ticket.ID)
	if gotTask.CurrentStatus != domain.TaskCompleted || gotTicket.CurrentStatus != domain.TicketResolved {
		t.Fatalf("task=%s ticket=%s", gotTask.CurrentStatus, gotTicket.CurrentStatus)
	}
}

func TestTaskHandover_TicketFailureRestoresTask(t *testing.T) {
	db := newSagaDB(t)
	ts := services.NewTransitionService(db, clock.NewSystem(), clock.NewSystem())
	ctx := context.Background()

	task, err := ts.Create(ctx, "t1", "task", "ASSIGNED")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := ts.Transition(ctx, "t1", task.ID, "task", "ASSIGNED", "INPROGRESS"); err != nil {
		t.Fatalf("move task: %v", err)
	}
	// Ticket left OPEN: the saga's INPROGRESS -> RESOLVED step will fail.
	ticket, err := ts.Create(ctx, "t1", "ticket", "OPEN")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	reg := NewRegistry()
	RegisterBuiltinSagas(reg, ts)
	params, _ := json.Marshal(map[string]string{"task_id": task.ID, "ticket_id": ticket.ID})
	steps, err := reg.Build("task_handover", "t1", params)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	o := NewOrchestrator(GormRecorder{DB: db}, clock.NewSystem(), clock.NewSystem(), nil, 2)
	exec, err := o.Execute(ctx, "task_handover", "t1", steps)
	if err == nil {
		t.Fatal("expected saga failure")
	}
	if exec.Status != domain.SagaCompensated || exec.CompensatedSteps != 1 {
		t.Fatalf("exec = %+v", exec)
	}

	// The completed task transition was rolled back to its before-state.
	gotTask, _ := ts.Get(ctx, "t1", task.ID)
	if gotTask.CurrentStatus != domain.TaskInProgress {
		t.Fatalf("task = %s, want restored INPROGRESS", gotTask.CurrentStatus)
	}
	gotTicket, _ := ts.Get(ctx, "t1", ticket.ID)
	if gotTicket.CurrentStatus != domain.TicketOpen {
		t.Fatalf("ticket = %s, want untouched OPEN", gotTicket.CurrentStatus)
	}
}

func TestRegistry_UnknownSagaAndBadParams(t *testing.T) {
	db := newSagaDB(t)
	ts := services.NewTransitionService(db, clock.NewSystem(), clock.NewSystem())
	reg := NewRegistry()
	RegisterBuiltinSagas(reg, ts)

	if _, err := reg.Build("nope", "t1", nil); err == nil {
		t.Fatal("unknown saga must be rejected")
	}
	var ve *services.ValidationError
	if _, err := reg.Build("task_handover", "t1", json.RawMessage(`{}`)); !errors.As(err, &ve) {
		t.Fatalf("missing params: %v", err)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "onboarding_approval" || got[1] != "task_handover" {
		t.Fatalf("names = %v", got)
	}
}
