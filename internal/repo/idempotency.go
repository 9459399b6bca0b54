// Package repo implements the data persistence layer for the engine's domain
// entities, backed by GORM. This file provides the storage primitives behind
// the idempotency store: atomic admission via the unique constraint on
// (idempotency_key, scope), in-place reclaim of expired rows, hit accounting,
// and off-hot-path cleanup.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (idempotency_key, scope) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotencyRecord returns the record for (key, scope) regardless of
// expiry, or ErrNotFound. Admission decides itself how to treat expired rows.
func GetIdempotencyRecord(ctx context.Context, db *gorm.DB, key, scope string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("idempotency_key = ? AND scope = ?", key, scope).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotencyRecord inserts a fresh record and returns ErrDuplicate on
// unique violation. The insert is the admission point: under concurrent
// retries with the same key exactly one caller wins the constraint.
func CreateIdempotencyRecord(ctx context.Context, db *gorm.DB, rec *domain.IdempotencyRecord) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ReclaimExpiredIdempotency atomically takes over an expired row for a new
// admission. The WHERE clause guards on expires_at so two concurrent
// reclaimers cannot both win; it reports whether this caller did.
func ReclaimExpiredIdempotency(ctx context.Context, db *gorm.DB, key, scope, requestHash, endpoint string, now time.Time, ttl time.Duration) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("idempotency_key = ? AND scope = ? AND expires_at <= ?", key, scope, now).
		Updates(map[string]any{
			"request_hash":      requestHash,
			"endpoint":          endpoint,
			"response_snapshot": nil,
			"hit_count":         0,
			"last_hit_at":       nil,
			"committed_at":      nil,
			"created_at":        now,
			"expires_at":        now.Add(ttl),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TouchIdempotencyHit increments hit_count and stamps last_hit_at in place,
// so concurrent duplicates never lose updates.
func TouchIdempotencyHit(ctx context.Context, db *gorm.DB, key, scope string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("idempotency_key = ? AND scope = ?", key, scope).
		UpdateColumns(map[string]any{
			"hit_count":   gorm.Expr("hit_count + 1"),
			"last_hit_at": now,
		}).Error
}

// CommitIdempotencyResponse persists the response snapshot for a previously
// admitted request, making the record replayable.
func CommitIdempotencyResponse(ctx context.Context, db *gorm.DB, key, scope string, snapshot []byte, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("idempotency_key = ? AND scope = ?", key, scope).
		Updates(map[string]any{
			"response_snapshot": snapshot,
			"committed_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredIdempotency removes up to limit expired records, oldest first.
// Called by the background janitor; deletion is never on the hot path.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res := db.WithContext(ctx).
		Where("id IN (?)", db.WithContext(ctx).
			Model(&domain.IdempotencyRecord{}).
			Select("id").
			Where("expires_at <= ?", now).
			Order("expires_at ASC, created_at ASC").
			Limit(limit)).
		Delete(&domain.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
