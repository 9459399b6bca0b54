// Package repo implements the data persistence layer for the engine's domain
// entities, backed by GORM. This file persists saga executions: the orchestrator
// writes a row per saga and updates it after every step so recovery and
// stuck-saga detection survive process restarts.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// CreateSagaExecution inserts the initial (pending) saga row.
func CreateSagaExecution(ctx context.Context, db *gorm.DB, s *domain.SagaExecution) error {
	return db.WithContext(ctx).Create(s).Error
}

// GetSagaExecution fetches a saga by id, or ErrNotFound.
func GetSagaExecution(ctx context.Context, db *gorm.DB, id string) (*domain.SagaExecution, error) {
	var s domain.SagaExecution
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSagaExecution persists the orchestrator's view of the saga after a
// status change or step completion. All mutable columns are written; the
// orchestrator is the single writer for a given saga so no version guard is
// needed here.
func UpdateSagaExecution(ctx context.Context, db *gorm.DB, s *domain.SagaExecution) error {
	return db.WithContext(ctx).
		Model(&domain.SagaExecution{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"status":            s.Status,
			"executed_steps":    s.ExecutedSteps,
			"compensated_steps": s.CompensatedSteps,
			"execution_details": s.ExecutionDetails,
			"last_error":        s.LastError,
			"completed_at":      s.CompletedAt,
		}).Error
}

// ListSagaExecutions returns a page of sagas, newest first, optionally
// filtered by status, plus the total count for pagination.
func ListSagaExecutions(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.SagaExecution, int64, error) {
	q := db.WithContext(ctx).Model(&domain.SagaExecution{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.SagaExecution{}, 0, nil
	}

	var out []domain.SagaExecution
	err := q.Order("started_at DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ListStuckSagas returns non-terminal sagas started before the cutoff,
// oldest first. Backed by the (status, started_at) index; a saga sitting in
// "compensating" here is a failed compensation awaiting an operator. Sagas
// with a completion time are settled (e.g. canceled before execution) and
// are excluded even when their status reads "failed".
func ListStuckSagas(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.SagaExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.SagaExecution
	err := db.WithContext(ctx).
		Where("status IN (?) AND started_at < ? AND completed_at IS NULL",
			[]string{domain.SagaPending, domain.SagaExecuting, domain.SagaFailed, domain.SagaCompensating},
			cutoff).
		Order("started_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteSagasBefore removes settled sagas completed before the cutoff,
// including those that failed before executing a step. Retention is the only
// path that deletes saga rows.
func DeleteSagasBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res := db.WithContext(ctx).
		Where("id IN (?)", db.WithContext(ctx).
			Model(&domain.SagaExecution{}).
			Select("id").
			Where("status IN (?) AND completed_at IS NOT NULL AND completed_at < ?",
				[]string{domain.SagaCommitted, domain.SagaCompensated, domain.SagaFailed}, cutoff).
			Order("completed_at ASC").
			Limit(limit)).
		Delete(&domain.SagaExecution{})
	return res.RowsAffected, res.Error
}
