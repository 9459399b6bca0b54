// Package repo implements the data persistence layer for the engine's domain
// entities, backed by GORM. This file maintains the per-operation, per-hour
// transaction outcome buckets with increment-in-place upserts so concurrent
// writers never lose counts.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldsync/go-sync-backend/internal/domain"
)

// MetricBucket identifies one hour bucket.
type MetricBucket struct {
	Date string
	Hour int
}

// BucketFor returns the bucket containing ts (UTC).
func BucketFor(ts time.Time) MetricBucket {
	ts = ts.UTC()
	return MetricBucket{Date: ts.Format("2006-01-02"), Hour: ts.Hour()}
}

// BucketsSince returns the buckets touching [since, now], oldest first.
func BucketsSince(since, now time.Time) []MetricBucket {
	var out []MetricBucket
	for t := since.UTC().Truncate(time.Hour); !t.After(now.UTC()); t = t.Add(time.Hour) {
		out = append(out, BucketFor(t))
	}
	return out
}

// UpsertOutcome folds one operation outcome into its hour bucket. The update
// is a single INSERT .. ON CONFLICT with expression assignments, so counters
// only ever move forward and concurrent recorders cannot clobber each other.
func UpsertOutcome(ctx context.Context, db *gorm.DB, operation, tenantScope string, ts time.Time, success bool, failureKind string, durationMs int64) error {
	if durationMs < 0 {
		durationMs = 0
	}
	b := BucketFor(ts)

	var succ, fail, rollback, deadlock, timeout int64
	if success {
		succ = 1
	} else {
		fail = 1
		switch failureKind {
		case domain.FailureRollback, domain.FailureCompensation:
			rollback = 1
		case domain.FailureDeadlock:
			deadlock = 1
		case domain.FailureTimeout:
			timeout = 1
		}
	}

	row := domain.TransactionOutcomeMetric{
		OperationName:     operation,
		Date:              b.Date,
		Hour:              b.Hour,
		TenantScope:       tenantScope,
		TotalAttempts:     1,
		SuccessfulCommits: succ,
		FailedCommits:     fail,
		Rollbacks:         rollback,
		Deadlocks:         deadlock,
		Timeouts:          timeout,
		TotalDurationMs:   durationMs,
		MinDurationMs:     durationMs,
		MaxDurationMs:     durationMs,
	}

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "operation_name"}, {Name: "date"}, {Name: "hour"}, {Name: "tenant_scope"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"total_attempts":     gorm.Expr("total_attempts + 1"),
				"successful_commits": gorm.Expr("successful_commits + ?", succ),
				"failed_commits":     gorm.Expr("failed_commits + ?", fail),
				"rollbacks":          gorm.Expr("rollbacks + ?", rollback),
				"deadlocks":          gorm.Expr("deadlocks + ?", deadlock),
				"timeouts":           gorm.Expr("timeouts + ?", timeout),
				"total_duration_ms":  gorm.Expr("total_duration_ms + ?", durationMs),
				"min_duration_ms":    gorm.Expr("MIN(min_duration_ms, ?)", durationMs),
				"max_duration_ms":    gorm.Expr("MAX(max_duration_ms, ?)", durationMs),
				"updated_at":         ts.UTC(),
			}),
		}).
		Create(&row).Error
}

// ListOutcomeMetrics returns the metric rows for the given buckets, optionally
// filtered to one operation. Rows are read-only from the perspective of every
// component except the recorder.
func ListOutcomeMetrics(ctx context.Context, db *gorm.DB, buckets []MetricBucket, operation string) ([]domain.TransactionOutcomeMetric, error) {
	if len(buckets) == 0 {
		return []domain.TransactionOutcomeMetric{}, nil
	}
	tuples := make([][]any, 0, len(buckets))
	for _, b := range buckets {
		tuples = append(tuples, []any{b.Date, b.Hour})
	}
	q := db.WithContext(ctx).
		Model(&domain.TransactionOutcomeMetric{}).
		Where("(date, hour) IN ?", tuples)
	if operation != "" {
		q = q.Where("operation_name = ?", operation)
	}

	var out []domain.TransactionOutcomeMetric
	err := q.Order("operation_name ASC, date ASC, hour ASC").Find(&out).Error
	return out, err
}
