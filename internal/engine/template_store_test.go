package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

func taskStep(id string, next ...string) domain.Step {
	s := domain.Step{ID: id, Name: id, Type: domain.StepTask}
	for _, n := range next {
		s.NextSteps = append(s.NextSteps, domain.NextStep{StepID: n})
	}
	return s
}

func TestValidateTemplate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		tmpl domain.WorkflowTemplate
		want error
	}{
		{
			"no name",
			domain.WorkflowTemplate{Steps: []domain.Step{taskStep("a")}, EntryStepID: "a"},
			domain.ErrValidation,
		},
		{
			"no steps",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "a"},
			domain.ErrValidation,
		},
		{
			"unknown entry",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "nope", Steps: []domain.Step{taskStep("a")}},
			domain.ErrValidation,
		},
		{
			"dangling edge",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "a", Steps: []domain.Step{taskStep("a", "ghost")}},
			domain.ErrValidation,
		},
		{
			"duplicate step id",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "a", Steps: []domain.Step{taskStep("a"), taskStep("a")}},
			domain.ErrValidation,
		},
		{
			"approval without approvers",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "a", Steps: []domain.Step{
				{ID: "a", Name: "a", Type: domain.StepApproval},
			}},
			domain.ErrValidation,
		},
		{
			"unknown step type",
			domain.WorkflowTemplate{Name: "x", EntryStepID: "a", Steps: []domain.Step{
				{ID: "a", Name: "a", Type: "teleport"},
			}},
			domain.ErrValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTemplate(&tc.tmpl)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateTemplate_UnboundedLoop(t *testing.T) {
	// a -> b -> a with no timeout or retry bound anywhere in the cycle.
	tmpl := domain.WorkflowTemplate{
		Name:        "loop",
		EntryStepID: "a",
		Steps: []domain.Step{
			taskStep("a", "b"),
			taskStep("b", "a"),
		},
	}
	if err := ValidateTemplate(&tmpl); !errors.Is(err, domain.ErrUnboundedLoop) {
		t.Fatalf("expected unbounded loop error, got %v", err)
	}

	// The same cycle with a retry bound on one member is allowed.
	tmpl.Steps[1].MaxRetries = 2
	if err := ValidateTemplate(&tmpl); err != nil {
		t.Fatalf("bounded cycle should validate, got %v", err)
	}

	// A timeout also bounds the cycle.
	tmpl.Steps[1].MaxRetries = 0
	tmpl.Steps[0].TimeoutMs = 5000
	if err := ValidateTemplate(&tmpl); err != nil {
		t.Fatalf("timeout-bounded cycle should validate, got %v", err)
	}
}

func TestValidateTemplate_SelfLoop(t *testing.T) {
	tmpl := domain.WorkflowTemplate{
		Name:        "self",
		EntryStepID: "a",
		Steps:       []domain.Step{taskStep("a", "a")},
	}
	if err := ValidateTemplate(&tmpl); !errors.Is(err, domain.ErrUnboundedLoop) {
		t.Fatalf("expected unbounded loop error, got %v", err)
	}
}

func TestPublish_VersionsAreImmutable(t *testing.T) {
	templates := newMemTemplates()
	clock := newFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	store := NewTemplateStore(templates, clock)

	req := models.PublishTemplateRequest{
		Name:        "expense-approval",
		EntryStepID: "a",
		Steps:       []domain.Step{taskStep("a")},
	}

	v1, err := store.Publish(context.Background(), req, "alice")
	if err != nil {
		t.Fatalf("publish v1: %v", err)
	}
	if v1.Version != 1 || !v1.Active {
		t.Fatalf("v1 should be active version 1, got version=%d active=%v", v1.Version, v1.Active)
	}

	req.Steps = []domain.Step{taskStep("a", "b"), taskStep("b")}
	v2, err := store.Publish(context.Background(), req, "alice")
	if err != nil {
		t.Fatalf("publish v2: %v", err)
	}
	if v2.Version != 2 {
		t.Fatalf("expected version 2, got %d", v2.Version)
	}
	if v2.ID == v1.ID {
		t.Fatal("new version must be a new row")
	}

	// The first version is untouched.
	stored, err := templates.FindByID(v1.ID)
	if err != nil {
		t.Fatalf("find v1: %v", err)
	}
	if len(stored.Steps) != 1 {
		t.Fatalf("v1 was mutated: %d steps", len(stored.Steps))
	}
}

func TestPublish_DefaultsEntryToFirstStep(t *testing.T) {
	store := NewTemplateStore(newMemTemplates(), newFakeClock(time.Now()))
	tmpl, err := store.Publish(context.Background(), models.PublishTemplateRequest{
		Name:  "no-entry",
		Steps: []domain.Step{taskStep("first", "second"), taskStep("second")},
	}, "bob")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if tmpl.EntryStepID != "first" {
		t.Fatalf("expected entry to default to first step, got %q", tmpl.EntryStepID)
	}
}
