package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// Rollback compensates a failed or cancelled instance. Completed steps that
// declare a compensating action are undone in reverse completion order. The
// walk is best effort: a failed compensation is recorded and the walk
// continues, ending in a partial record. The instance always ends rolled_back
// so the outcome is visible either way.
func (e *Engine) Rollback(ctx context.Context, instanceID int64, reason, actor string) (*domain.WorkflowRollback, error) {
	inst, err := e.instances.FindByID(instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.StatusFailed && inst.Status != domain.StatusCancelled {
		return nil, fmt.Errorf("%w: cannot roll back a %s instance", domain.ErrInvalidTransition, inst.Status)
	}

	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	rb := &domain.WorkflowRollback{
		ExternalID: uuid.NewString(),
		InstanceID: inst.ID,
		Reason:     reason,
		Status:     domain.RollbackRunning,
		Snapshot: domain.InstanceSnapshot{
			Status:         inst.Status,
			CurrentStepID:  inst.CurrentStepID,
			CompletedSteps: inst.CompletedSteps,
			Variables:      inst.Variables,
		},
		Created: now,
	}

	// Reverse completion order, compensable steps only.
	for i := len(inst.CompletedSteps) - 1; i >= 0; i-- {
		step := tmpl.StepByID(inst.CompletedSteps[i])
		if step == nil || step.Compensation == nil {
			continue
		}
		rb.Steps = append(rb.Steps, domain.RollbackStep{
			StepID: step.ID,
			Action: step.Compensation.Action,
			Status: domain.RollbackStepPending,
		})
	}

	if _, err := e.rollbacks.Save(rb); err != nil {
		return nil, fmt.Errorf("saving rollback record: %w", err)
	}
	slog.Info("Rollback started", "instance_id", inst.ID, "steps", len(rb.Steps), "reason", reason)

	allOK := true
	for i := range rb.Steps {
		rbStep := &rb.Steps[i]
		step := tmpl.StepByID(rbStep.StepID)

		payload := make(map[string]any, len(rb.Snapshot.Variables)+1)
		for k, v := range rb.Snapshot.Variables {
			payload[k] = v
		}
		if step.Compensation.Config != nil {
			for k, v := range step.Compensation.Config {
				payload[k] = v
			}
		}
		payload["compensatedStepId"] = rbStep.StepID

		out, callErr := e.dispatcher.Call(ctx, rbStep.Action, payload, e.stepTimeout(step))
		if callErr != nil {
			rbStep.Status = domain.RollbackStepFailed
			rbStep.Error = callErr.Error()
			allOK = false
			slog.Warn("Compensation failed", "instance_id", inst.ID, "step_id", rbStep.StepID, "error", callErr)
		} else {
			rbStep.Status = domain.RollbackStepCompleted
			rbStep.Result = out
		}
		if err := e.rollbacks.Update(rb); err != nil {
			slog.Error("Failed to record rollback progress", "rollback_id", rb.ID, "error", err)
		}
	}

	rb.Status = domain.RollbackCompleted
	if !allOK {
		rb.Status = domain.RollbackPartial
	}
	rb.Completed = nullTime(e.clock.Now().UTC())
	if err := e.rollbacks.Update(rb); err != nil {
		return nil, err
	}

	// rolled_back is written here rather than through the public transition
	// table so a status change can never skip the compensation walk.
	from := inst.Status
	inst.Status = domain.StatusRolledBack
	inst.CurrentStepID = ""
	if err := e.instances.Update(inst); err != nil {
		return nil, err
	}
	e.recorder.Record(ctx, inst.ID, domain.EventRolledBack, actor, map[string]any{
		"from":        string(from),
		"rollbackId":  rb.ID,
		"reason":      reason,
		"result":      string(rb.Status),
		"compensated": len(rb.Steps),
	})
	slog.Info("Rollback finished", "instance_id", inst.ID, "result", rb.Status)
	return rb, nil
}

// GetRollback returns the most recent rollback record of an instance.
func (e *Engine) GetRollback(instanceID int64) (*domain.WorkflowRollback, error) {
	return e.rollbacks.FindByInstance(instanceID)
}
