package domain

import (
	"encoding/json"
	"time"
)

// Saga execution statuses. Transitions are monotone along
// pending → executing → committed, with the failure branch
// failed → compensating → compensated. A saga stuck in "compensating"
// indicates a failed compensation and requires operator intervention.
const (
	SagaPending      = "pending"
	SagaExecuting    = "executing"
	SagaCommitted    = "committed"
	SagaFailed       = "failed"
	SagaCompensating = "compensating"
	SagaCompensated  = "compensated"
)

// Per-step outcomes recorded in a saga's execution details.
const (
	StepSucceeded          = "succeeded"
	StepFailed             = "failed"
	StepCompensated        = "compensated"
	StepCompensationFailed = "compensation_failed"
)

// SagaStepRecord is one entry of a saga's execution_details: the before/after
// snapshots and outcome of a single step. Before is captured prior to invoking
// the step so compensation always has the original state to restore.
type SagaStepRecord struct {
	Index      int             `json:"index"`
	Name       string          `json:"name"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Outcome    string          `json:"outcome"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// SagaExecution is the persisted record of one multi-step change. It is
// created when the change is requested, updated after every step, and removed
// only by retention policy, never by business logic.
//
// Invariants: ExecutedSteps <= TotalSteps; Status never reports committed
// while any step record carries a failed outcome.
type SagaExecution struct {
	ID               string     `json:"saga_id"           gorm:"type:char(36);primaryKey"`
	Name             string     `json:"saga_name"         gorm:"type:varchar(128);not null;index"`
	TenantID         string     `json:"tenant_id"         gorm:"type:varchar(64);not null"`
	Status           string     `json:"status"            gorm:"type:varchar(16);not null;index:idx_saga_status_started,priority:1"`
	TotalSteps       int        `json:"total_steps"       gorm:"not null"`
	ExecutedSteps    int        `json:"executed_steps"    gorm:"not null;default:0"`
	CompensatedSteps int        `json:"compensated_steps" gorm:"not null;default:0"`
	ExecutionDetails []byte     `json:"-"                 gorm:"type:blob"`
	LastError        string     `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt        time.Time  `json:"started_at"        gorm:"type:DATETIME NOT NULL;index:idx_saga_status_started,priority:2"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" gorm:"type:DATETIME"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName implements the GORM tabler interface.
func (SagaExecution) TableName() string { return "saga_executions" }

// Details decodes ExecutionDetails into the ordered list of step records.
// An empty column decodes to an empty slice.
func (s *SagaExecution) Details() ([]SagaStepRecord, error) {
	if len(s.ExecutionDetails) == 0 {
		return []SagaStepRecord{}, nil
	}
	var out []SagaStepRecord
	if err := json.Unmarshal(s.ExecutionDetails, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetDetails encodes the ordered step records into ExecutionDetails.
func (s *SagaExecution) SetDetails(recs []SagaStepRecord) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	s.ExecutionDetails = b
	return nil
}

// Terminal reports whether the saga has reached a state that no further
// orchestration will change. Note that "compensating" is not terminal by
// design: it flags a failed compensation awaiting operator attention.
func (s *SagaExecution) Terminal() bool {
	return s.Status == SagaCommitted || s.Status == SagaCompensated
}
