package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// allowedTransitions is the closed edge set of the instance lifecycle.
// completed and cancelled have no outbound edges. Rollback reaches
// rolled_back through its own coordinator, not through this table, so a plain
// transition request cannot skip compensation.
var allowedTransitions = map[domain.InstanceStatus][]domain.InstanceStatus{
	domain.StatusPending:    {domain.StatusRunning},
	domain.StatusRunning:    {domain.StatusPaused, domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled},
	domain.StatusPaused:     {domain.StatusRunning, domain.StatusCancelled},
	domain.StatusFailed:     {domain.StatusRunning},
	domain.StatusRolledBack: {domain.StatusRunning},
}

// CanTransition reports whether the edge from one status to another exists.
func CanTransition(from, to domain.InstanceStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition applies a requested status change to an instance. Invalid edges
// are rejected with no side effects. Valid edges run their entry actions
// (timestamps, duration, step pointer) atomically with the status write.
func (e *Engine) Transition(ctx context.Context, instanceID int64, target domain.InstanceStatus, actor string) (*domain.WorkflowInstance, error) {
	inst, err := e.instances.FindByID(instanceID)
	if err != nil {
		return nil, err
	}
	if err := e.applyTransition(ctx, inst, target, actor, nil); err != nil {
		return nil, err
	}
	if target == domain.StatusRunning {
		e.wakeup()
	}
	return inst, nil
}

// applyTransition mutates the loaded instance and persists it. Callers that
// already hold the instance use this directly so the optimistic version check
// covers their other pending mutations too.
func (e *Engine) applyTransition(ctx context.Context, inst *domain.WorkflowInstance, target domain.InstanceStatus, actor string, detail map[string]any) error {
	if !CanTransition(inst.Status, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, inst.Status, target)
	}

	from := inst.Status
	now := e.clock.Now().UTC()
	eventType := domain.EventType("")

	switch target {
	case domain.StatusRunning:
		switch from {
		case domain.StatusPending:
			if err := e.enterRunning(inst, now); err != nil {
				return err
			}
			eventType = domain.EventStarted
		case domain.StatusRolledBack:
			// Restart from a clean slate but keep the bound variables.
			tmpl, err := e.templates.FindByID(inst.TemplateID)
			if err != nil {
				return err
			}
			inst.CurrentStepID = tmpl.EntryStepID
			inst.CompletedSteps = []string{}
			inst.FailedSteps = nil
			inst.Started = nullTime(now)
			inst.Completed = sql.NullTime{}
			inst.DurationMs = sql.NullInt64{}
			eventType = domain.EventResumed
		default:
			// Resume from paused, or retry the failed step in place.
			inst.Completed = sql.NullTime{}
			inst.DurationMs = sql.NullInt64{}
			eventType = domain.EventResumed
		}
		inst.NextActivation = nullTime(now)
	case domain.StatusPaused:
		inst.Paused = nullTime(now)
		inst.NextActivation = sql.NullTime{}
		eventType = domain.EventPaused
	case domain.StatusCompleted:
		inst.CurrentStepID = ""
		inst.Completed = nullTime(now)
		inst.NextActivation = sql.NullTime{}
		e.stampDuration(inst, now)
		eventType = domain.EventCompleted
	case domain.StatusFailed:
		inst.Completed = nullTime(now)
		inst.NextActivation = sql.NullTime{}
		e.stampDuration(inst, now)
		eventType = domain.EventFailed
	case domain.StatusCancelled:
		inst.CurrentStepID = ""
		inst.Cancelled = nullTime(now)
		inst.NextActivation = sql.NullTime{}
		e.stampDuration(inst, now)
		eventType = domain.EventCancelled
	}

	inst.Status = target
	if err := e.instances.Update(inst); err != nil {
		return err
	}

	slog.Info("Instance transition", "instance_id", inst.ID, "from", from, "to", target, "actor", actor)
	if detail == nil {
		detail = map[string]any{}
	}
	detail["from"] = string(from)
	detail["to"] = string(target)
	e.recorder.Record(ctx, inst.ID, eventType, actor, detail)
	return nil
}

// enterRunning performs first-activation setup: bind the entry step and merge
// caller variables over template defaults, caller values winning.
func (e *Engine) enterRunning(inst *domain.WorkflowInstance, now time.Time) error {
	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		return err
	}
	vars := tmpl.DefaultVariables()
	for k, v := range inst.Variables {
		vars[k] = v
	}
	inst.Variables = vars
	inst.CurrentStepID = tmpl.EntryStepID
	inst.Started = nullTime(now)
	return nil
}

func (e *Engine) stampDuration(inst *domain.WorkflowInstance, now time.Time) {
	if inst.Started.Valid {
		inst.DurationMs = sql.NullInt64{Int64: now.Sub(inst.Started.Time).Milliseconds(), Valid: true}
	}
}
