package domain

import "time"

// Idempotency key scopes. The scope qualifies the client-supplied key so that
// independent key spaces (per user, per device, per task) cannot collide.
const (
	ScopeUser   = "user"
	ScopeDevice = "device"
	ScopeTask   = "task"
)

// ValidScope reports whether s is one of the declared idempotency scopes.
func ValidScope(s string) bool {
	switch s {
	case ScopeUser, ScopeDevice, ScopeTask:
		return true
	}
	return false
}

// IdempotencyRecord stores the outcome of a previously admitted mutating
// request, keyed by (idempotency_key, scope). It enables safe retries by
// replaying the originally produced response without re-executing side
// effects, and detects key reuse with a different payload via RequestHash.
//
// A record is created when a request is first admitted; ResponseSnapshot is
// filled in by Commit once the business logic completes. CommittedAt is nil
// while the winning request is still in flight. Expired rows are treated as
// absent by admission and reclaimed in place, so the unique index on
// (idempotency_key, scope) stays authoritative across restarts.
type IdempotencyRecord struct {
	ID               string     `gorm:"type:char(36);primaryKey"`
	IdempotencyKey   string     `gorm:"type:varchar(200);not null;uniqueIndex:ux_idem_key_scope,priority:1;index:idx_idem_key_expires,priority:1"`
	Scope            string     `gorm:"type:varchar(16);not null;uniqueIndex:ux_idem_key_scope,priority:2"`
	RequestHash      string     `gorm:"type:char(64);not null"`
	Endpoint         string     `gorm:"type:varchar(128);not null"`
	ResponseSnapshot []byte     `gorm:"type:blob"`
	HitCount         int64      `gorm:"not null;default:0"`
	LastHitAt        *time.Time `gorm:"type:DATETIME"`
	CommittedAt      *time.Time `gorm:"type:DATETIME"`
	CreatedAt        time.Time  `gorm:"type:DATETIME NOT NULL;index:idx_idem_cleanup,priority:2"`
	ExpiresAt        time.Time  `gorm:"type:DATETIME NOT NULL;index:idx_idem_key_expires,priority:2;index:idx_idem_cleanup,priority:1"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Committed reports whether the admitted request has persisted its response
// snapshot, i.e. the record is replayable.
func (r *IdempotencyRecord) Committed() bool { return r.CommittedAt != nil }

// Expired reports whether the record is past its expiry at the given instant.
func (r *IdempotencyRecord) Expired(now time.Time) bool { return !r.ExpiresAt.After(now) }
