package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// RegisterTrigger binds a firing rule to an existing template.
func (e *Engine) RegisterTrigger(_ context.Context, req models.RegisterTriggerRequest) (*domain.WorkflowTrigger, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: trigger name is required", domain.ErrValidation)
	}
	triggerType := domain.TriggerType(req.Type)
	switch triggerType {
	case domain.TriggerEvent, domain.TriggerCondition, domain.TriggerWebhook, domain.TriggerManual:
	case "":
		triggerType = domain.TriggerEvent
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", domain.ErrValidation, req.Type)
	}
	if triggerType != domain.TriggerManual && req.EventKey == "" {
		return nil, fmt.Errorf("%w: event key is required", domain.ErrValidation)
	}
	if _, err := e.templates.FindByID(req.TemplateID); err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	trigger := &domain.WorkflowTrigger{
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Type:       triggerType,
		EventKey:   req.EventKey,
		Conditions: req.Conditions,
		Enabled:    true,
		Created:    now,
		Modified:   now,
	}
	if _, err := e.triggers.Save(trigger); err != nil {
		return nil, fmt.Errorf("saving trigger: %w", err)
	}
	return trigger, nil
}

// GetTrigger loads one trigger by id.
func (e *Engine) GetTrigger(id int64) (*domain.WorkflowTrigger, error) {
	return e.triggers.FindByID(id)
}

// SetTriggerEnabled toggles a trigger without deleting its counters.
func (e *Engine) SetTriggerEnabled(id int64, enabled bool) error {
	if _, err := e.triggers.FindByID(id); err != nil {
		return err
	}
	return e.triggers.SetEnabled(id, enabled)
}

// EvaluateTrigger tests a trigger's condition list against an event payload.
func EvaluateTrigger(t *domain.WorkflowTrigger, payload map[string]any) (bool, error) {
	return EvaluateAll(t.Conditions, payload)
}

// HandleEvent evaluates an inbound event against every enabled trigger with a
// matching key and starts an instance for each match, seeding the instance
// variables from the event payload. A misbehaving trigger only bumps its own
// error counter; it never fails the ingest or its sibling triggers.
func (e *Engine) HandleEvent(ctx context.Context, eventKey string, payload map[string]any, actor string) (int, error) {
	triggers, err := e.triggers.FindEnabledByEvent(eventKey)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range *triggers {
		trigger := &(*triggers)[i]
		matched, err := EvaluateTrigger(trigger, payload)
		if err != nil {
			slog.Warn("Trigger evaluation failed", "trigger_id", trigger.ID, "event_key", eventKey, "error", err)
			e.markTriggerError(trigger.ID)
			continue
		}
		if !matched {
			continue
		}

		vars := make(map[string]any, len(payload))
		for k, v := range payload {
			vars[k] = v
		}
		inst, err := e.CreateInstance(ctx, trigger.TemplateID, "", vars, actor)
		if err != nil {
			slog.Warn("Trigger fire failed", "trigger_id", trigger.ID, "template_id", trigger.TemplateID, "error", err)
			e.markTriggerError(trigger.ID)
			continue
		}
		slog.Info("Trigger fired", "trigger_id", trigger.ID, "event_key", eventKey, "instance_id", inst.ID)
		if err := e.triggers.MarkFired(trigger.ID); err != nil {
			slog.Error("Failed to mark trigger fired", "trigger_id", trigger.ID, "error", err)
		}
		fired++
	}
	return fired, nil
}

func (e *Engine) markTriggerError(id int64) {
	if err := e.triggers.MarkError(id); err != nil {
		slog.Error("Failed to mark trigger error", "trigger_id", id, "error", err)
	}
}
