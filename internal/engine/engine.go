package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/repository"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

const (
	defaultMaxRetries = 3
)

// Deps bundles the engine's collaborators so construction sites and tests
// stay readable.
type Deps struct {
	Templates  TemplateRepo
	Instances  InstanceRepo
	Steps      StepExecutionRepo
	Chains     ApprovalRepo
	Triggers   TriggerRepo
	Schedules  ScheduleRepo
	Rollbacks  RollbackRepo
	Recorder   *Recorder
	Dispatcher Dispatcher
	Notifier   Notifier
	Clock      core.Clock

	// DefaultTimeout and DefaultRetryDelay back steps that do not declare
	// their own; the bootstrap wires them from system settings.
	DefaultTimeout    time.Duration
	DefaultRetryDelay time.Duration
}

// Engine owns instance lifecycle semantics: state transitions, step
// dispatch, approvals, triggers and rollback. It is safe for concurrent use;
// conflicting writers are serialized through optimistic version checks in the
// repositories.
type Engine struct {
	templates  TemplateRepo
	instances  InstanceRepo
	steps      StepExecutionRepo
	chains     ApprovalRepo
	triggers   TriggerRepo
	schedules  ScheduleRepo
	rollbacks  RollbackRepo
	recorder   *Recorder
	dispatcher Dispatcher
	notifier   Notifier
	clock      core.Clock

	defaultTimeout    time.Duration
	defaultRetryDelay time.Duration

	wakeup func()
}

func NewEngine(deps Deps) *Engine {
	e := &Engine{
		templates:         deps.Templates,
		instances:         deps.Instances,
		steps:             deps.Steps,
		chains:            deps.Chains,
		triggers:          deps.Triggers,
		schedules:         deps.Schedules,
		rollbacks:         deps.Rollbacks,
		recorder:          deps.Recorder,
		dispatcher:        deps.Dispatcher,
		notifier:          deps.Notifier,
		clock:             deps.Clock,
		defaultTimeout:    deps.DefaultTimeout,
		defaultRetryDelay: deps.DefaultRetryDelay,
		wakeup:            func() {},
	}
	if e.clock == nil {
		e.clock = &core.RealClock{}
	}
	if e.notifier == nil {
		e.notifier = LogNotifier{}
	}
	if e.defaultTimeout <= 0 {
		e.defaultTimeout = 30 * time.Second
	}
	if e.defaultRetryDelay <= 0 {
		e.defaultRetryDelay = 10 * time.Second
	}
	return e
}

// SetWakeup registers the manager's poll nudge. The engine calls it after any
// write that makes an instance immediately due again.
func (e *Engine) SetWakeup(fn func()) {
	if fn != nil {
		e.wakeup = fn
	}
}

// CreateInstance starts a new instance of an active template. The instance is
// persisted in pending and picked up by the poll loop; creation never blocks
// on step execution. Passing an external id makes creation idempotent: a
// second create with the same id returns the existing instance.
func (e *Engine) CreateInstance(ctx context.Context, templateID int64, externalID string, variables map[string]any, actor string) (*domain.WorkflowInstance, error) {
	tmpl, err := e.templates.FindByID(templateID)
	if err != nil {
		return nil, fmt.Errorf("loading template %d: %w", templateID, err)
	}
	if !tmpl.Active {
		return nil, fmt.Errorf("%w: template %q v%d is not active", domain.ErrTemplateNotFound, tmpl.Name, tmpl.Version)
	}
	if err := validateRequiredVariables(tmpl, variables); err != nil {
		return nil, err
	}

	if externalID != "" {
		existing, err := e.instances.FindByExternalID(externalID)
		if err == nil {
			return existing, nil
		}
		if err != domain.ErrNotFound {
			return nil, err
		}
	} else {
		externalID = uuid.NewString()
	}

	now := e.clock.Now().UTC()
	inst := &domain.WorkflowInstance{
		ExternalID:      externalID,
		TemplateID:      tmpl.ID,
		TemplateName:    tmpl.Name,
		TemplateVersion: tmpl.Version,
		Status:          domain.StatusPending,
		Variables:       variables,
		CompletedSteps:  []string{},
		Created:         now,
		Modified:        now,
		NextActivation:  nullTime(now),
		CreatedBy:       actor,
	}
	if _, err := e.instances.Save(inst); err != nil {
		return nil, fmt.Errorf("saving instance: %w", err)
	}
	slog.Info("Instance created", "instance_id", inst.ID, "external_id", inst.ExternalID,
		"template", tmpl.Name, "template_version", tmpl.Version)
	e.wakeup()
	return inst, nil
}

func validateRequiredVariables(tmpl *domain.WorkflowTemplate, variables map[string]any) error {
	for _, v := range tmpl.Variables {
		if !v.Required || v.Default != nil {
			continue
		}
		if _, ok := variables[v.Name]; !ok {
			return fmt.Errorf("%w: required variable %q not provided", domain.ErrValidation, v.Name)
		}
	}
	return nil
}

// GetInstance loads one instance by database id.
func (e *Engine) GetInstance(id int64) (*domain.WorkflowInstance, error) {
	return e.instances.FindByID(id)
}

// GetInstanceByExternalID loads one instance by external id.
func (e *Engine) GetInstanceByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	return e.instances.FindByExternalID(externalID)
}

// InstanceEvents returns the append-only audit trail of one instance.
func (e *Engine) InstanceEvents(instanceID int64) (*[]domain.EventLogEntry, error) {
	return e.recorder.events.FindByInstance(instanceID)
}

// InstanceSteps returns every recorded step attempt of one instance.
func (e *Engine) InstanceSteps(instanceID int64) (*[]domain.StepExecution, error) {
	return e.steps.FindByInstance(instanceID)
}

// SearchInstances filters the instance listing.
func (e *Engine) SearchInstances(req models.SearchInstancesRequest) (*[]domain.WorkflowInstance, error) {
	return e.instances.Search(req)
}

// InstanceOverview returns per-template status counts.
func (e *Engine) InstanceOverview() ([]repository.InstanceOverviewRow, error) {
	return e.instances.GetInstanceOverview()
}

// TemplateStats aggregates terminal outcomes and average duration per template.
func (e *Engine) TemplateStats() ([]repository.TemplateStatsRow, error) {
	return e.instances.GetTemplateStats()
}

func (e *Engine) stepTimeout(step *domain.Step) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	return e.defaultTimeout
}

func (e *Engine) stepRetryDelay(step *domain.Step) time.Duration {
	if step.RetryDelayMs > 0 {
		return time.Duration(step.RetryDelayMs) * time.Millisecond
	}
	return e.defaultRetryDelay
}

func stepMaxRetries(step *domain.Step) int {
	if step.MaxRetries > 0 {
		return step.MaxRetries
	}
	return defaultMaxRetries
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
