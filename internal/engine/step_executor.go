package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// outcome tells the run loop what happened to the current step.
type outcome int

const (
	// outcomeAdvanced means the step finished and the pointer moved; keep going.
	outcomeAdvanced outcome = iota
	// outcomeParked means the instance is waiting (delay, approval, retry
	// backoff, async result) and was released back to the poller.
	outcomeParked
	// outcomeDone means the instance reached a terminal or non-running status.
	outcomeDone
)

// RunInstance drives a claimed instance forward until it parks or finishes.
// It is called from a worker goroutine after a successful claim; the claim
// plus the optimistic version check make concurrent advancement safe.
func (e *Engine) RunInstance(ctx context.Context, inst *domain.WorkflowInstance) {
	logger := slog.With("instance_id", inst.ID, "external_id", inst.ExternalID, "template", inst.TemplateName)

	if inst.Status == domain.StatusPending {
		if err := e.applyTransition(ctx, inst, domain.StatusRunning, domain.SystemActor, nil); err != nil {
			logger.Error("Failed to start instance", "error", err)
			e.release(inst)
			return
		}
	}

	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		logger.Error("Failed to load template for instance", "error", err)
		e.release(inst)
		return
	}

	for {
		if ctx.Err() != nil {
			e.release(inst)
			return
		}
		if inst.Status != domain.StatusRunning {
			e.release(inst)
			return
		}
		step := tmpl.StepByID(inst.CurrentStepID)
		if step == nil {
			logger.Error("Instance points at unknown step", "step_id", inst.CurrentStepID)
			e.failInstance(ctx, inst, inst.CurrentStepID, "unknown step "+inst.CurrentStepID, 0)
			e.release(inst)
			return
		}

		result, err := e.executeCurrent(ctx, inst, tmpl, step)
		if err != nil {
			logger.Error("Step execution error", "step_id", step.ID, "error", err)
			e.release(inst)
			return
		}
		switch result {
		case outcomeAdvanced:
			continue
		case outcomeParked, outcomeDone:
			e.release(inst)
			return
		}
	}
}

// release hands the instance back to the pollers.
func (e *Engine) release(inst *domain.WorkflowInstance) {
	if err := e.instances.ClearExecutor(inst.ID); err != nil {
		slog.Error("Failed to clear executor", "instance_id", inst.ID, "error", err)
	}
}

// executeCurrent runs or resumes the step the instance currently points at.
func (e *Engine) executeCurrent(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step) (outcome, error) {
	latest, err := e.steps.FindLatest(inst.ID, step.ID)
	if err != nil && err != domain.ErrNotFound {
		return outcomeParked, err
	}

	if latest != nil && latest.Open() {
		return e.resumeOpenAttempt(ctx, inst, tmpl, step, latest)
	}

	attempt := 1
	retryCount := 0
	if latest != nil {
		if latest.Status == domain.StepStatusCompleted && inst.HasCompleted(step.ID) {
			// Already done on a previous pass (duplicate activation); just move on.
			return e.advance(ctx, inst, tmpl, step, domain.SystemActor)
		}
		attempt = latest.Attempt + 1
		retryCount = latest.Attempt
	}

	exec := &domain.StepExecution{
		InstanceID: inst.ID,
		StepID:     step.ID,
		Attempt:    attempt,
		Status:     domain.StepStatusRunning,
		Input:      e.stepInput(inst, step),
		RetryCount: retryCount,
		MaxRetries: stepMaxRetries(step),
		Started:    e.clock.Now().UTC(),
	}

	switch step.Type {
	case domain.StepCondition:
		exec.Status = domain.StepStatusCompleted
		exec.Completed = nullTime(exec.Started)
		if _, err := e.steps.Save(exec); err != nil {
			return outcomeParked, err
		}
		return e.advance(ctx, inst, tmpl, step, domain.SystemActor)

	case domain.StepDelay:
		if _, err := e.steps.Save(exec); err != nil {
			return outcomeParked, err
		}
		due := exec.Started.Add(delayDuration(step))
		inst.NextActivation = nullTime(due)
		if err := e.instances.Update(inst); err != nil {
			return outcomeParked, err
		}
		return outcomeParked, nil

	case domain.StepApproval:
		exec.Status = domain.StepStatusWaitingApproval
		if _, err := e.steps.Save(exec); err != nil {
			return outcomeParked, err
		}
		if _, err := e.CreateChain(ctx, inst, step); err != nil {
			return e.failAttempt(ctx, inst, tmpl, step, exec, "creating approval chain: "+err.Error())
		}
		inst.NextActivation = sql.NullTime{}
		if err := e.instances.Update(inst); err != nil {
			return outcomeParked, err
		}
		return outcomeParked, nil

	case domain.StepNotification:
		if _, err := e.steps.Save(exec); err != nil {
			return outcomeParked, err
		}
		if err := e.notifier.Notify(ctx, step.Assignees, step.Name, exec.Input); err != nil {
			// Fire and forget: delivery failure never fails the workflow.
			slog.Warn("Notification delivery failed", "instance_id", inst.ID, "step_id", step.ID, "error", err)
		}
		return e.completeAttempt(ctx, inst, tmpl, step, exec, nil)

	default: // task, script, webhook
		if _, err := e.steps.Save(exec); err != nil {
			return outcomeParked, err
		}
		if stepIsAsync(step) {
			// Result arrives through the step result endpoint. The timeout
			// bounds how long we wait before the attempt counts as failed.
			inst.NextActivation = nullTime(exec.Started.Add(e.stepTimeout(step)))
			if err := e.instances.Update(inst); err != nil {
				return outcomeParked, err
			}
			return outcomeParked, nil
		}
		output, callErr := e.dispatcher.Call(ctx, stepAction(step), exec.Input, e.stepTimeout(step))
		if callErr != nil {
			return e.failAttempt(ctx, inst, tmpl, step, exec, callErr.Error())
		}
		return e.completeAttempt(ctx, inst, tmpl, step, exec, output)
	}
}

// resumeOpenAttempt handles an instance activated while its latest attempt is
// still open: delays coming due, async timeouts, or approval waits.
func (e *Engine) resumeOpenAttempt(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step, exec *domain.StepExecution) (outcome, error) {
	now := e.clock.Now().UTC()

	switch step.Type {
	case domain.StepDelay:
		due := exec.Started.Add(delayDuration(step))
		if now.Before(due) {
			inst.NextActivation = nullTime(due)
			if err := e.instances.Update(inst); err != nil {
				return outcomeParked, err
			}
			return outcomeParked, nil
		}
		return e.completeAttempt(ctx, inst, tmpl, step, exec, nil)

	case domain.StepApproval:
		// Chain resolution advances the instance; nothing to do here.
		inst.NextActivation = sql.NullTime{}
		if err := e.instances.Update(inst); err != nil {
			return outcomeParked, err
		}
		return outcomeParked, nil

	default:
		if stepIsAsync(step) {
			deadline := exec.Started.Add(e.stepTimeout(step))
			if now.Before(deadline) {
				inst.NextActivation = nullTime(deadline)
				if err := e.instances.Update(inst); err != nil {
					return outcomeParked, err
				}
				return outcomeParked, nil
			}
			return e.failAttempt(ctx, inst, tmpl, step, exec,
				fmt.Sprintf("no result after %s", e.stepTimeout(step)))
		}
		// A synchronous attempt left open means the process died mid-call.
		return e.failAttempt(ctx, inst, tmpl, step, exec, "attempt interrupted")
	}
}

// completeAttempt closes the attempt, merges its output into the instance
// variables and advances the step pointer.
func (e *Engine) completeAttempt(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step, exec *domain.StepExecution, output map[string]any) (outcome, error) {
	now := e.clock.Now().UTC()
	exec.Status = domain.StepStatusCompleted
	exec.Output = output
	exec.Completed = nullTime(now)
	exec.DurationMs = sql.NullInt64{Int64: now.Sub(exec.Started).Milliseconds(), Valid: true}
	if err := e.steps.Update(exec); err != nil {
		return outcomeParked, err
	}

	if len(output) > 0 {
		if inst.Variables == nil {
			inst.Variables = map[string]any{}
		}
		for k, v := range output {
			inst.Variables[k] = v
		}
	}
	return e.advance(ctx, inst, tmpl, step, domain.SystemActor)
}

// advance picks the next step along the first matching edge and moves the
// pointer, completing the instance when the step has no successors.
func (e *Engine) advance(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step, actor string) (outcome, error) {
	if !inst.HasCompleted(step.ID) {
		inst.CompletedSteps = append(inst.CompletedSteps, step.ID)
	}

	next, err := pickNext(step, inst.Variables)
	if err != nil {
		e.recorder.Record(ctx, inst.ID, domain.EventStepFailed, actor,
			map[string]any{"stepId": step.ID, "error": err.Error()})
		e.failInstance(ctx, inst, step.ID, err.Error(), 0)
		return outcomeDone, nil
	}

	e.recorder.Record(ctx, inst.ID, domain.EventStepCompleted, actor,
		map[string]any{"stepId": step.ID, "next": next})

	if next == "" {
		if err := e.applyTransition(ctx, inst, domain.StatusCompleted, actor, nil); err != nil {
			return outcomeDone, err
		}
		return outcomeDone, nil
	}

	inst.CurrentStepID = next
	inst.NextActivation = nullTime(e.clock.Now().UTC())
	if err := e.instances.Update(inst); err != nil {
		return outcomeParked, err
	}
	return outcomeAdvanced, nil
}

// pickNext evaluates outgoing edges in declared order against the variable
// bindings; a nil condition is the default edge. No successors means the path
// ends. Successors with no match is a routing failure.
func pickNext(step *domain.Step, vars map[string]any) (string, error) {
	if len(step.NextSteps) == 0 {
		return "", nil
	}
	for _, edge := range step.NextSteps {
		if edge.Condition == nil {
			return edge.StepID, nil
		}
		ok, err := EvaluateCondition(*edge.Condition, vars)
		if err != nil {
			return "", err
		}
		if ok {
			return edge.StepID, nil
		}
	}
	return "", fmt.Errorf("%w: step %q matched no outgoing edge", domain.ErrNoMatchingBranch, step.ID)
}

// failAttempt closes a failed attempt and either schedules a retry with
// linearly growing backoff or fails the instance once retries are exhausted.
func (e *Engine) failAttempt(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, step *domain.Step, exec *domain.StepExecution, msg string) (outcome, error) {
	now := e.clock.Now().UTC()
	exec.Status = domain.StepStatusFailed
	exec.Error = sql.NullString{String: msg, Valid: true}
	exec.Completed = nullTime(now)
	exec.DurationMs = sql.NullInt64{Int64: now.Sub(exec.Started).Milliseconds(), Valid: true}
	if err := e.steps.Update(exec); err != nil {
		return outcomeParked, err
	}

	maxRetries := stepMaxRetries(step)
	if exec.Attempt < maxRetries {
		backoff := time.Duration(exec.Attempt) * e.stepRetryDelay(step)
		inst.NextActivation = nullTime(now.Add(backoff))
		if err := e.instances.Update(inst); err != nil {
			return outcomeParked, err
		}
		slog.Warn("Step attempt failed, retrying", "instance_id", inst.ID, "step_id", step.ID,
			"attempt", exec.Attempt, "max_retries", maxRetries, "backoff", backoff, "error", msg)
		e.recorder.Record(ctx, inst.ID, domain.EventStepFailed, domain.SystemActor,
			map[string]any{"stepId": step.ID, "attempt": exec.Attempt, "error": msg, "willRetry": true})
		return outcomeParked, nil
	}

	e.recorder.Record(ctx, inst.ID, domain.EventStepFailed, domain.SystemActor,
		map[string]any{"stepId": step.ID, "attempt": exec.Attempt, "error": msg, "willRetry": false})
	e.failInstance(ctx, inst, step.ID, msg, exec.Attempt)
	return outcomeDone, nil
}

// failInstance records the failed step on the instance and transitions it to
// failed.
func (e *Engine) failInstance(ctx context.Context, inst *domain.WorkflowInstance, stepID, msg string, retryCount int) {
	inst.FailedSteps = append(inst.FailedSteps, domain.FailedStep{
		StepID:     stepID,
		Error:      msg,
		RetryCount: retryCount,
	})
	if err := e.applyTransition(ctx, inst, domain.StatusFailed, domain.SystemActor,
		map[string]any{"stepId": stepID, "error": msg}); err != nil {
		slog.Error("Failed to mark instance failed", "instance_id", inst.ID, "error", err)
	}
}

// RecordStepResult delivers the outcome of an externally executed attempt.
// Delivery is at-least-once: a result for an attempt that is already closed
// is acknowledged without effect. Results for instances that are no longer
// running are recorded against the attempt but do not move the instance.
func (e *Engine) RecordStepResult(ctx context.Context, instanceID int64, stepID string, attempt int, output map[string]any, errMsg string, actor string) (*domain.StepExecution, error) {
	exec, err := e.steps.Find(instanceID, stepID, attempt)
	if err != nil {
		return nil, err
	}
	if !exec.Open() {
		return exec, nil
	}

	inst, err := e.instances.FindByID(instanceID)
	if err != nil {
		return nil, err
	}
	tmpl, err := e.templates.FindByID(inst.TemplateID)
	if err != nil {
		return nil, err
	}
	step := tmpl.StepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: step %q", domain.ErrNotFound, stepID)
	}

	active := inst.Status == domain.StatusRunning && inst.CurrentStepID == stepID
	if !active {
		// Close the attempt for the record; the instance has moved on
		// (cancelled, failed, paused elsewhere) and is not steered by this.
		now := e.clock.Now().UTC()
		if errMsg != "" {
			exec.Status = domain.StepStatusFailed
			exec.Error = sql.NullString{String: errMsg, Valid: true}
		} else {
			exec.Status = domain.StepStatusCompleted
			exec.Output = output
		}
		exec.Completed = nullTime(now)
		exec.DurationMs = sql.NullInt64{Int64: now.Sub(exec.Started).Milliseconds(), Valid: true}
		if err := e.steps.Update(exec); err != nil {
			return nil, err
		}
		return exec, nil
	}

	if errMsg != "" {
		if _, err := e.failAttempt(ctx, inst, tmpl, step, exec, errMsg); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.completeAttempt(ctx, inst, tmpl, step, exec, output); err != nil {
			return nil, err
		}
	}
	e.wakeup()
	return exec, nil
}

func (e *Engine) stepInput(inst *domain.WorkflowInstance, step *domain.Step) map[string]any {
	input := make(map[string]any, len(inst.Variables))
	for k, v := range inst.Variables {
		input[k] = v
	}
	if cfg, ok := step.Config["input"].(map[string]any); ok {
		for k, v := range cfg {
			input[k] = v
		}
	}
	return input
}

func stepAction(step *domain.Step) string {
	if url, ok := step.Config["url"].(string); ok && url != "" {
		return url
	}
	if action, ok := step.Config["action"].(string); ok && action != "" {
		return action
	}
	return step.Name
}

func stepIsAsync(step *domain.Step) bool {
	async, ok := step.Config["async"].(bool)
	return ok && async
}

func delayDuration(step *domain.Step) time.Duration {
	if ms, ok := toFloat(step.Config["durationMs"]); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Minute
}
