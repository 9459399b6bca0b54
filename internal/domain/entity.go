// Package domain defines the core persistence models for the synchronization
// engine. These types are used by GORM for database schema mapping and are
// shared across the repository and service layers.
package domain

import "time"

// Entity types with a managed lifecycle. Each type owns its own transition
// table, registered with the transition package at startup.
const (
	EntityTypeTask       = "task"
	EntityTypeTicket     = "ticket"
	EntityTypeOnboarding = "onboarding"
)

// Task lifecycle statuses.
const (
	TaskAssigned           = "ASSIGNED"
	TaskInProgress         = "INPROGRESS"
	TaskPartiallyCompleted = "PARTIALLYCOMPLETED"
	TaskCompleted          = "COMPLETED"
	TaskStandby            = "STANDBY"
)

// Ticket lifecycle statuses.
const (
	TicketOpen       = "OPEN"
	TicketTriaged    = "TRIAGED"
	TicketInProgress = "INPROGRESS"
	TicketResolved   = "RESOLVED"
	TicketClosed     = "CLOSED"
	TicketReopened   = "REOPENED"
)

// Onboarding lifecycle statuses.
const (
	OnboardingStarted            = "STARTED"
	OnboardingDocumentsSubmitted = "DOCUMENTSSUBMITTED"
	OnboardingVerified           = "VERIFIED"
	OnboardingActive             = "ACTIVE"
	OnboardingRejected           = "REJECTED"
)

// Entity represents any row with a managed status lifecycle (task, ticket,
// onboarding case). Status changes never touch the row directly: they go
// through the transition validator and an optimistic version check, so
// CurrentStatus is always a member of the entity type's declared status set.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - TenantID: owning tenant; every query is tenant-scoped.
//   - EntityType: one of the EntityType* constants; selects the transition table.
//   - CurrentStatus: the current lifecycle status.
//   - Version: monotonic counter for optimistic concurrency. A transition
//     carries the version it was read at and is rejected when stale.
type Entity struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	TenantID      string    `json:"tenant_id"      gorm:"type:varchar(64);not null;index:idx_tenant_entities"`
	EntityType    string    `json:"entity_type"    gorm:"type:varchar(32);not null"`
	CurrentStatus string    `json:"current_status" gorm:"type:varchar(32);not null"`
	Version       int64     `json:"version"        gorm:"not null;default:1"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Entity.
func (Entity) TableName() string { return "entities" }
