package domain

import "time"

// Failure kinds recorded against a transaction outcome. Deadlocks and
// timeouts are tracked separately because they drive the critical health
// classification.
const (
	FailureNone     = ""
	FailureGeneric  = "failure"
	FailureRollback = "rollback"
	FailureDeadlock = "deadlock"
	FailureTimeout  = "timeout"
	// FailureCompensation marks a failed saga compensation. It is counted as a
	// rollback and additionally raises an immediate health alert.
	FailureCompensation = "compensation_failure"
)

// TransactionOutcomeMetric aggregates operation outcomes per hour bucket.
// Rows are upserted with increment-in-place updates (never read-modify-write
// from the caller), so counters are monotonically non-decreasing within a
// bucket even under high concurrency.
//
// Duration is tracked as a running sum plus min/max; the average is derived
// on read so the update stays a pure increment.
type TransactionOutcomeMetric struct {
	ID                uint      `json:"-"                  gorm:"primaryKey;autoIncrement"`
	OperationName     string    `json:"operation_name"     gorm:"type:varchar(128);not null;uniqueIndex:ux_metric_bucket,priority:1"`
	Date              string    `json:"date"               gorm:"type:char(10);not null;uniqueIndex:ux_metric_bucket,priority:2"`
	Hour              int       `json:"hour"               gorm:"not null;uniqueIndex:ux_metric_bucket,priority:3"`
	TenantScope       string    `json:"tenant_scope"       gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_metric_bucket,priority:4"`
	TotalAttempts     int64     `json:"total_attempts"     gorm:"not null;default:0"`
	SuccessfulCommits int64     `json:"successful_commits" gorm:"not null;default:0"`
	FailedCommits     int64     `json:"failed_commits"     gorm:"not null;default:0"`
	Rollbacks         int64     `json:"rollbacks"          gorm:"not null;default:0"`
	Deadlocks         int64     `json:"deadlocks"          gorm:"not null;default:0"`
	Timeouts          int64     `json:"timeouts"           gorm:"not null;default:0"`
	TotalDurationMs   int64     `json:"-"                  gorm:"not null;default:0"`
	MinDurationMs     int64     `json:"min_duration_ms"    gorm:"not null;default:0"`
	MaxDurationMs     int64     `json:"max_duration_ms"    gorm:"not null;default:0"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// TableName implements the GORM tabler interface.
func (TransactionOutcomeMetric) TableName() string { return "transaction_outcome_metrics" }

// AvgDurationMs returns the mean duration for the bucket, derived from the
// running sum. Zero when the bucket has no attempts.
func (m *TransactionOutcomeMetric) AvgDurationMs() int64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return m.TotalDurationMs / m.TotalAttempts
}

// FailureRate returns failed commits over total attempts in [0,1].
func (m *TransactionOutcomeMetric) FailureRate() float64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return float64(m.FailedCommits) / float64(m.TotalAttempts)
}
