package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// CreateChain builds the approval chain for an approval step and notifies the
// initially addressed approvers. In sequential mode only the first approver
// is addressed; otherwise all approvers are addressed at once.
func (e *Engine) CreateChain(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step) (*domain.ApprovalChain, error) {
	now := e.clock.Now().UTC()
	chain := &domain.ApprovalChain{
		ExternalID: uuid.NewString(),
		InstanceID: inst.ID,
		StepID:     step.ID,
		RequireAll: step.RequireAll,
		Sequential: step.Sequential,
		Status:     domain.ChainPending,
		Approvers:  make([]domain.Approver, 0, len(step.Approvers)),
		Created:    now,
		Modified:   now,
	}
	for i, userID := range step.Approvers {
		chain.Approvers = append(chain.Approvers, domain.Approver{
			UserID: userID,
			Order:  i,
			Status: domain.ApproverPending,
		})
	}
	e.stampDeadlines(chain, step, now)

	if _, err := e.chains.Save(chain); err != nil {
		return nil, fmt.Errorf("saving approval chain: %w", err)
	}
	e.notifyAddressed(ctx, inst, step, chain)
	return chain, nil
}

// stampDeadlines sets the decision deadline on every currently addressed slot.
func (e *Engine) stampDeadlines(chain *domain.ApprovalChain, step *domain.Step, now time.Time) {
	if step.ApprovalDeadlineMs <= 0 {
		return
	}
	deadline := now.Add(time.Duration(step.ApprovalDeadlineMs) * time.Millisecond)
	for _, i := range addressedSlots(chain) {
		if chain.Approvers[i].Deadline == nil {
			d := deadline
			chain.Approvers[i].Deadline = &d
		}
	}
}

// addressedSlots returns the indexes of slots whose decision is currently
// being waited on.
func addressedSlots(chain *domain.ApprovalChain) []int {
	if chain.Status != domain.ChainPending {
		return nil
	}
	if chain.Sequential {
		for i := chain.CurrentIndex; i < len(chain.Approvers); i++ {
			if chain.Approvers[i].Status == domain.ApproverPending {
				return []int{i}
			}
		}
		return nil
	}
	var out []int
	for i := range chain.Approvers {
		if chain.Approvers[i].Status == domain.ApproverPending {
			out = append(out, i)
		}
	}
	return out
}

func (e *Engine) notifyAddressed(ctx context.Context, inst *domain.WorkflowInstance, step *domain.Step, chain *domain.ApprovalChain) {
	var recipients []string
	for _, i := range addressedSlots(chain) {
		recipients = append(recipients, chain.Approvers[i].UserID)
	}
	if len(recipients) == 0 {
		return
	}
	payload := map[string]any{
		"instanceId": inst.ID,
		"externalId": inst.ExternalID,
		"template":   inst.TemplateName,
		"stepId":     step.ID,
		"chainId":    chain.ID,
	}
	if err := e.notifier.Notify(ctx, recipients, "Approval requested: "+step.Name, payload); err != nil {
		slog.Warn("Approval notification failed", "chain_id", chain.ID, "error", err)
	}
}

// GetChain loads one approval chain by id.
func (e *Engine) GetChain(id int64) (*domain.ApprovalChain, error) {
	return e.chains.FindByID(id)
}

// RecordDecision applies one approver's decision to a chain. Callers that are
// not on the chain, or not yet addressed in sequential mode, get
// ErrNotAuthorized. Deciding twice, or deciding on a resolved chain, gets
// ErrAlreadyDecided.
func (e *Engine) RecordDecision(ctx context.Context, chainID int64, approverID string, approved bool, comments string) (*domain.ApprovalChain, error) {
	chain, err := e.chains.FindByID(chainID)
	if err != nil {
		return nil, err
	}
	if chain.Status != domain.ChainPending {
		return nil, fmt.Errorf("%w: chain is %s", domain.ErrAlreadyDecided, chain.Status)
	}

	idx := chain.ApproverByUser(approverID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q is not on this chain", domain.ErrNotAuthorized, approverID)
	}
	if chain.Approvers[idx].Status != domain.ApproverPending {
		return nil, fmt.Errorf("%w: %q already decided", domain.ErrAlreadyDecided, approverID)
	}
	if chain.Sequential && !slotAddressed(chain, idx) {
		return nil, fmt.Errorf("%w: %q is not the current approver", domain.ErrNotAuthorized, approverID)
	}

	decision := "approved"
	if !approved {
		decision = "rejected"
	}
	if err := e.applyDecision(ctx, chain, idx, approved, decision, comments, approverID); err != nil {
		return nil, err
	}
	return chain, nil
}

func slotAddressed(chain *domain.ApprovalChain, idx int) bool {
	for _, i := range addressedSlots(chain) {
		if i == idx {
			return true
		}
	}
	return false
}

// applyDecision mutates the slot, resolves the chain if the decision settles
// it, persists the chain and steers the owning instance. It is shared by the
// decision endpoint and escalation auto-decisions.
func (e *Engine) applyDecision(ctx context.Context, chain *domain.ApprovalChain, idx int, approved bool, decision, comments, actor string) error {
	now := e.clock.Now().UTC()
	slot := &chain.Approvers[idx]
	slot.Decision = decision
	slot.Comments = comments
	slot.DecidedAt = &now
	if approved {
		slot.Status = domain.ApproverApproved
	} else {
		slot.Status = domain.ApproverRejected
	}

	resolved := domain.ChainStatus("")
	switch {
	case !approved:
		// Fail fast: one rejection rejects the chain, remaining slots stay
		// pending and are never resolved.
		resolved = domain.ChainRejected
	case !chain.RequireAll:
		// First approval wins.
		resolved = domain.ChainApproved
	case chain.PendingCount() == 0:
		// Unanimous.
		resolved = domain.ChainApproved
	}

	inst, err := e.instances.FindByID(chain.InstanceID)
	if err != nil {
		return err
	}
	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		return err
	}
	step := tmpl.StepByID(chain.StepID)
	if step == nil {
		return fmt.Errorf("%w: step %q", domain.ErrNotFound, chain.StepID)
	}

	if resolved != "" {
		chain.Status = resolved
	} else if chain.Sequential {
		chain.CurrentIndex = idx + 1
		e.stampDeadlines(chain, step, now)
	}
	if err := e.chains.Update(chain); err != nil {
		return err
	}

	slog.Info("Approval decision recorded", "chain_id", chain.ID, "approver", chain.Approvers[idx].UserID,
		"decision", decision, "chain_status", chain.Status, "actor", actor)

	switch chain.Status {
	case domain.ChainApproved:
		return e.resolveApprovalStep(ctx, inst, tmpl, step, chain, true, actor)
	case domain.ChainRejected:
		return e.resolveApprovalStep(ctx, inst, tmpl, step, chain, false, actor)
	default:
		// Chain still open: hand off to the next approver in sequential mode.
		if chain.Sequential {
			e.notifyAddressed(ctx, inst, step, chain)
		}
		return nil
	}
}

// resolveApprovalStep closes the waiting step attempt according to the chain
// outcome and moves the instance: approval advances it, rejection fails it.
func (e *Engine) resolveApprovalStep(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step, chain *domain.ApprovalChain, approved bool, actor string) error {
	exec, err := e.steps.FindLatest(inst.ID, step.ID)
	if err != nil {
		return err
	}
	if !exec.Open() {
		return nil
	}
	if inst.Status != domain.StatusRunning || inst.CurrentStepID != step.ID {
		// The instance moved on (cancelled while waiting); close the attempt
		// for the record only.
		now := e.clock.Now().UTC()
		exec.Status = domain.StepStatusCompleted
		if !approved {
			exec.Status = domain.StepStatusFailed
			exec.Error = sql.NullString{String: "approval rejected", Valid: true}
		}
		exec.Completed = nullTime(now)
		return e.steps.Update(exec)
	}

	if approved {
		output := map[string]any{"approved": true, "chainId": chain.ID}
		if _, err := e.completeAttempt(ctx, inst, tmpl, step, exec, output); err != nil {
			return err
		}
		e.wakeup()
		return nil
	}

	now := e.clock.Now().UTC()
	exec.Status = domain.StepStatusFailed
	exec.Error = sql.NullString{String: "approval rejected", Valid: true}
	exec.Completed = nullTime(now)
	exec.DurationMs = sql.NullInt64{Int64: now.Sub(exec.Started).Milliseconds(), Valid: true}
	if err := e.steps.Update(exec); err != nil {
		return err
	}
	e.recorder.Record(ctx, inst.ID, domain.EventStepFailed, actor,
		map[string]any{"stepId": step.ID, "error": "approval rejected", "chainId": chain.ID})
	e.failInstance(ctx, inst, step.ID, "approval rejected", 0)
	return nil
}

// SweepEscalations applies escalation rules to every pending chain with a
// lapsed deadline. Called periodically by the manager.
func (e *Engine) SweepEscalations(ctx context.Context, limit int) {
	chains, err := e.chains.FindPending(limit)
	if err != nil {
		slog.Error("Escalation sweep failed to list chains", "error", err)
		return
	}
	for i := range *chains {
		chain := &(*chains)[i]
		if err := e.escalateChain(ctx, chain); err != nil {
			slog.Error("Escalation failed", "chain_id", chain.ID, "error", err)
		}
	}
}

// escalateChain checks every addressed slot of one chain and applies the
// step's escalation rule to slots whose deadline has lapsed.
func (e *Engine) escalateChain(ctx context.Context, chain *domain.ApprovalChain) error {
	now := e.clock.Now().UTC()

	var lapsed []int
	for _, i := range addressedSlots(chain) {
		d := chain.Approvers[i].Deadline
		if d != nil && now.After(*d) {
			lapsed = append(lapsed, i)
		}
	}
	if len(lapsed) == 0 {
		return nil
	}

	inst, err := e.instances.FindByID(chain.InstanceID)
	if err != nil {
		return err
	}
	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		return err
	}
	step := tmpl.StepByID(chain.StepID)
	if step == nil {
		return fmt.Errorf("%w: step %q", domain.ErrNotFound, chain.StepID)
	}

	rule := domain.EscalationRule{Action: domain.EscalateNotify}
	if step.Escalation != nil {
		rule = *step.Escalation
	}
	deadlineExtension := e.defaultTimeout
	if step.ApprovalDeadlineMs > 0 {
		deadlineExtension = time.Duration(step.ApprovalDeadlineMs) * time.Millisecond
	}

	for _, idx := range lapsed {
		slot := &chain.Approvers[idx]
		detail := map[string]any{
			"chainId":  chain.ID,
			"stepId":   chain.StepID,
			"approver": slot.UserID,
			"action":   string(rule.Action),
		}

		switch rule.Action {
		case domain.EscalateReassign:
			previous := slot.UserID
			slot.UserID = rule.ReassignTo
			next := now.Add(deadlineExtension)
			slot.Deadline = &next
			detail["reassignedTo"] = rule.ReassignTo
			if err := e.chains.Update(chain); err != nil {
				return err
			}
			e.recorder.Record(ctx, inst.ID, domain.EventEscalated, domain.SystemActor, detail)
			slog.Info("Approval reassigned", "chain_id", chain.ID, "from", previous, "to", rule.ReassignTo)
			e.notifyAddressed(ctx, inst, step, chain)

		case domain.EscalateAutoApprove:
			e.recorder.Record(ctx, inst.ID, domain.EventEscalated, domain.SystemActor, detail)
			if err := e.applyDecision(ctx, chain, idx, true, "system:auto_approve",
				"deadline lapsed", domain.SystemActor); err != nil {
				return err
			}
			if chain.Status != domain.ChainPending {
				return nil
			}

		case domain.EscalateAutoReject:
			e.recorder.Record(ctx, inst.ID, domain.EventEscalated, domain.SystemActor, detail)
			if err := e.applyDecision(ctx, chain, idx, false, "system:auto_reject",
				"deadline lapsed", domain.SystemActor); err != nil {
				return err
			}
			return nil

		default: // notify
			next := now.Add(deadlineExtension)
			slot.Deadline = &next
			if err := e.chains.Update(chain); err != nil {
				return err
			}
			e.recorder.Record(ctx, inst.ID, domain.EventEscalated, domain.SystemActor, detail)
			e.notifyAddressed(ctx, inst, step, chain)
		}
	}
	return nil
}
