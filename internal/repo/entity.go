// Package repo implements the data persistence layer for the engine's domain
// entities, backed by GORM. This file provides the entity row operations:
// creation with a validated initial status and the optimistic-concurrency
// status transition.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// ErrStaleVersion indicates a transition attempted against a version that no
// longer matches the row. The caller must re-read and retry.
var ErrStaleVersion = errors.New("stale entity version")

// CreateEntity inserts a new entity row at version 1.
func CreateEntity(ctx context.Context, db *gorm.DB, e *domain.Entity) error {
	e.Version = 1
	return db.WithContext(ctx).Create(e).Error
}

// GetEntity fetches an entity by id, scoped to the tenant, or ErrNotFound.
func GetEntity(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Entity, error) {
	var e domain.Entity
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ApplyTransition sets the entity's status and bumps its version, guarded by
// the version the caller read. The check-and-increment happens in a single
// UPDATE, so a stale caller is rejected with ErrStaleVersion rather than
// silently applied against newer data.
func ApplyTransition(ctx context.Context, db *gorm.DB, tenantID, id, newStatus string, version int64, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Entity{}).
		Where("id = ? AND tenant_id = ? AND version = ?", id, tenantID, version).
		UpdateColumns(map[string]any{
			"current_status": newStatus,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a version race.
		if _, err := GetEntity(ctx, db, tenantID, id); err != nil {
			return err
		}
		return ErrStaleVersion
	}
	return nil
}
