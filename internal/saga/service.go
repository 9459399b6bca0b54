package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/clock"
	"github.com/fieldsync/go-sync-backend/internal/domain"
	"github.com/fieldsync/go-sync-backend/internal/repo"
	"github.com/fieldsync/go-sync-backend/internal/services"
)

// Service is the application-facing facade over the saga subsystem: it
// resolves named definitions from the registry, hands the built steps to the
// orchestrator, and exposes the persisted executions for inspection.
type Service struct {
	DB       *gorm.DB
	Registry *Registry
	Orch     *Orchestrator
	Clock    clock.Clock
}

// NewService constructs a Service.
func NewService(db *gorm.DB, reg *Registry, orch *Orchestrator, clk clock.Clock) *Service {
	return &Service{DB: db, Registry: reg, Orch: orch, Clock: clk}
}

// Run builds and executes the named saga synchronously, returning its
// terminal (or wedged) execution record.
func (s *Service) Run(ctx context.Context, name, tenantID string, params json.RawMessage) (*domain.SagaExecution, error) {
	steps, err := s.Registry.Build(name, tenantID, params)
	if err != nil {
		return nil, err
	}
	return s.Orch.Execute(ctx, name, tenantID, steps)
}

// RunAsync builds the named saga and schedules it on the worker pool,
// returning the execution id for polling.
func (s *Service) RunAsync(ctx context.Context, name, tenantID string, params json.RawMessage) (string, error) {
	steps, err := s.Registry.Build(name, tenantID, params)
	if err != nil {
		return "", err
	}
	return s.Orch.ExecuteAsync(ctx, name, tenantID, steps)
}

// Get returns one saga execution by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.SagaExecution, error) {
	exec, err := repo.GetSagaExecution(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, services.ErrSagaNotFound
	}
	return exec, err
}

// List returns a page of executions, newest first, optionally filtered by
// status, plus the total count.
func (s *Service) List(ctx context.Context, status string, page, pageSize int) ([]domain.SagaExecution, int64, error) {
	if status != "" {
		switch status {
		case domain.SagaPending, domain.SagaExecuting, domain.SagaCommitted,
			domain.SagaFailed, domain.SagaCompensating, domain.SagaCompensated:
		default:
			return nil, 0, &services.ValidationError{Field: "status", Reason: "unrecognized saga status"}
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return repo.ListSagaExecutions(ctx, s.DB, status, (page-1)*pageSize, pageSize)
}

// Stuck returns non-terminal executions older than the given age, oldest
// first. These are candidates for operator intervention: a saga sitting in
// "compensating" holds partially-applied state.
func (s *Service) Stuck(ctx context.Context, olderThan time.Duration, limit int) ([]domain.SagaExecution, error) {
	if olderThan <= 0 {
		olderThan = 15 * time.Minute
	}
	return repo.ListStuckSagas(ctx, s.DB, s.Clock.Now().Add(-olderThan), limit)
}
