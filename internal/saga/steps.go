package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldsync/go-sync-backend/internal/repo"
	"github.com/fieldsync/go-sync-backend/internal/services"
)

// entitySnapshot is the before-state captured for a transition step: enough
// to restore the entity during compensation.
type entitySnapshot struct {
	EntityID string `json:"entity_id"`
	Status   string `json:"status"`
	Version  int64  `json:"version"`
}

// TransitionStep builds a saga step that moves one entity from fromStatus to
// toStatus through the transition service. Compensation restores the
// snapshotted prior status directly at the storage layer: the before-state
// was a validated member of the entity's status set, so restoring it does not
// re-enter the transition table (which may not permit the reverse edge).
func TransitionStep(ts *services.TransitionService, tenantID, entityID, entityType, fromStatus, toStatus string) Step {
	name := fmt.Sprintf("%s:%s->%s", entityType, fromStatus, toStatus)
	return Step{
		Name: name,
		Snapshot: func(ctx context.Context) (any, error) {
			e, err := ts.Get(ctx, tenantID, entityID)
			if err != nil {
				return nil, err
			}
			return entitySnapshot{EntityID: e.ID, Status: e.CurrentStatus, Version: e.Version}, nil
		},
		Do: func(ctx context.Context) (any, error) {
			e, err := ts.Transition(ctx, tenantID, entityID, entityType, fromStatus, toStatus)
			if err != nil {
				return nil, err
			}
			return entitySnapshot{EntityID: e.ID, Status: e.CurrentStatus, Version: e.Version}, nil
		},
		Undo: func(ctx context.Context, before json.RawMessage) error {
			if len(before) == 0 {
				return errors.New("missing before-state snapshot")
			}
			var snap entitySnapshot
			if err := json.Unmarshal(before, &snap); err != nil {
				return err
			}
			cur, err := repo.GetEntity(ctx, ts.DB, tenantID, snap.EntityID)
			if err != nil {
				return err
			}
			if cur.CurrentStatus == snap.Status {
				return nil
			}
			return repo.ApplyTransition(ctx, ts.DB, tenantID, snap.EntityID, snap.Status, cur.Version, ts.Clock.Now())
		},
	}
}

// taskHandoverParams are the parameters of the built-in task_handover saga.
type taskHandoverParams struct {
	TaskID   string `json:"task_id"`
	TicketID string `json:"ticket_id"`
}

// onboardingApprovalParams are the parameters of onboarding_approval.
type onboardingApprovalParams struct {
	CaseID string `json:"case_id"`
}

// RegisterBuiltinSagas installs the engine's built-in saga definitions.
//
//   - task_handover: completes a field task and resolves its linked ticket;
//     if the ticket resolution fails, the task is restored.
//   - onboarding_approval: verifies then activates an onboarding case in two
//     steps, rolling back to the submitted state on failure.
func RegisterBuiltinSagas(reg *Registry, ts *services.TransitionService) {
	reg.Register("task_handover", func(tenantID string, params json.RawMessage) ([]Step, error) {
		var p taskHandoverParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &services.ValidationError{Field: "params", Reason: "malformed task_handover parameters"}
		}
		if p.TaskID == "" || p.TicketID == "" {
			return nil, &services.ValidationError{Field: "params", Reason: "task_id and ticket_id are required"}
		}
		return []Step{
			TransitionStep(ts, tenantID, p.TaskID, "task", "INPROGRESS", "COMPLETED"),
			TransitionStep(ts, tenantID, p.TicketID, "ticket", "INPROGRESS", "RESOLVED"),
		}, nil
	})

	reg.Register("onboarding_approval", func(tenantID string, params json.RawMessage) ([]Step, error) {
		var p onboardingApprovalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &services.ValidationError{Field: "params", Reason: "malformed onboarding_approval parameters"}
		}
		if p.CaseID == "" {
			return nil, &services.ValidationError{Field: "params", Reason: "case_id is required"}
		}
		return []Step{
			TransitionStep(ts, tenantID, p.CaseID, "onboarding", "DOCUMENTSSUBMITTED", "VERIFIED"),
			TransitionStep(ts, tenantID, p.CaseID, "onboarding", "VERIFIED", "ACTIVE"),
		}, nil
	})
}
