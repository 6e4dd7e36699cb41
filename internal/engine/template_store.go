package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// TemplateStore validates and versions workflow templates. Published versions
// are immutable; publishing an existing name inserts a new row with the next
// version number and running instances keep the version they started on.
type TemplateStore struct {
	templates TemplateRepo
	clock     core.Clock
}

func NewTemplateStore(templates TemplateRepo, clock core.Clock) *TemplateStore {
	return &TemplateStore{templates: templates, clock: clock}
}

// Publish validates the definition and persists it as the next version of its
// name. Validation failures leave the store untouched.
func (s *TemplateStore) Publish(_ context.Context, req models.PublishTemplateRequest, actor string) (*domain.WorkflowTemplate, error) {
	tmpl := &domain.WorkflowTemplate{
		Name:        req.Name,
		Category:    req.Category,
		EntryStepID: req.EntryStepID,
		Steps:       req.Steps,
		Variables:   req.Variables,
		CreatedBy:   actor,
	}
	if tmpl.EntryStepID == "" && len(tmpl.Steps) > 0 {
		tmpl.EntryStepID = tmpl.Steps[0].ID
	}
	if err := ValidateTemplate(tmpl); err != nil {
		return nil, err
	}

	version := 1
	latest, err := s.templates.FindLatestByName(tmpl.Name)
	if err == nil {
		version = latest.Version + 1
	} else if err != domain.ErrNotFound {
		return nil, err
	}

	now := s.clock.Now().UTC()
	tmpl.Version = version
	tmpl.Active = true
	tmpl.Created = now
	tmpl.Modified = now
	if _, err := s.templates.Save(tmpl); err != nil {
		return nil, fmt.Errorf("saving template %q v%d: %w", tmpl.Name, version, err)
	}
	slog.Info("Template published", "name", tmpl.Name, "version", version, "steps", len(tmpl.Steps))
	return tmpl, nil
}

// Get loads one template version by id.
func (s *TemplateStore) Get(id int64) (*domain.WorkflowTemplate, error) {
	return s.templates.FindByID(id)
}

// List returns all stored template versions.
func (s *TemplateStore) List() (*[]domain.WorkflowTemplate, error) {
	return s.templates.FindAll()
}

// SetActive toggles whether new instances may be created from a version.
func (s *TemplateStore) SetActive(id int64, active bool) error {
	if _, err := s.templates.FindByID(id); err != nil {
		return err
	}
	return s.templates.SetActive(id, active)
}

// ValidateTemplate checks structural soundness: a non-empty closed step
// graph, a resolvable entry step, approvers on approval steps, and no cycle
// that lacks both a timeout and a retry bound.
func ValidateTemplate(t *domain.WorkflowTemplate) error {
	if t.Name == "" {
		return fmt.Errorf("%w: template name is required", domain.ErrValidation)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("%w: template %q has no steps", domain.ErrValidation, t.Name)
	}

	byID := make(map[string]*domain.Step, len(t.Steps))
	for i := range t.Steps {
		step := &t.Steps[i]
		if step.ID == "" {
			return fmt.Errorf("%w: step %d has no id", domain.ErrValidation, i)
		}
		if _, dup := byID[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", domain.ErrValidation, step.ID)
		}
		byID[step.ID] = step
	}

	if _, ok := byID[t.EntryStepID]; !ok {
		return fmt.Errorf("%w: entry step %q does not exist", domain.ErrValidation, t.EntryStepID)
	}

	for i := range t.Steps {
		step := &t.Steps[i]
		switch step.Type {
		case domain.StepTask, domain.StepApproval, domain.StepNotification,
			domain.StepCondition, domain.StepDelay, domain.StepWebhook, domain.StepScript:
		default:
			return fmt.Errorf("%w: step %q has unknown type %q", domain.ErrValidation, step.ID, step.Type)
		}
		if step.Type == domain.StepApproval && len(step.Approvers) == 0 {
			return fmt.Errorf("%w: approval step %q has no approvers", domain.ErrValidation, step.ID)
		}
		for _, next := range step.NextSteps {
			if _, ok := byID[next.StepID]; !ok {
				return fmt.Errorf("%w: step %q references unknown step %q", domain.ErrValidation, step.ID, next.StepID)
			}
		}
	}

	return checkCycles(t, byID)
}

// checkCycles walks the step graph and rejects any cycle in which no member
// declares a timeout or a retry bound. Bounded cycles are allowed, they model
// retry-until loops that cannot spin forever.
func checkCycles(t *domain.WorkflowTemplate, byID map[string]*domain.Step) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(t.Steps))
	stack := make([]string, 0, len(t.Steps))

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = inStack
		stack = append(stack, id)
		for _, next := range byID[id].NextSteps {
			switch state[next.StepID] {
			case unvisited:
				if err := visit(next.StepID); err != nil {
					return err
				}
			case inStack:
				// Found a back edge; the cycle is the stack suffix from the target.
				start := 0
				for i, sid := range stack {
					if sid == next.StepID {
						start = i
						break
					}
				}
				cycle := stack[start:]
				if !cycleBounded(cycle, byID) {
					return fmt.Errorf("%w: cycle %v has no timeout or retry limit", domain.ErrUnboundedLoop, cycle)
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for i := range t.Steps {
		if state[t.Steps[i].ID] == unvisited {
			if err := visit(t.Steps[i].ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func cycleBounded(cycle []string, byID map[string]*domain.Step) bool {
	for _, id := range cycle {
		step := byID[id]
		if step.TimeoutMs > 0 || step.MaxRetries > 0 {
			return true
		}
	}
	return false
}
