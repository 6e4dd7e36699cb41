package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

func TestRegisterTrigger_Validation(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "onboarding",
		Steps: []domain.Step{taskStep("a")},
	})

	cases := []struct {
		name string
		req  models.RegisterTriggerRequest
		want error
	}{
		{"no name", models.RegisterTriggerRequest{TemplateID: tmpl.ID, EventKey: "k"}, domain.ErrValidation},
		{"unknown type", models.RegisterTriggerRequest{TemplateID: tmpl.ID, Name: "x", Type: "psychic", EventKey: "k"}, domain.ErrValidation},
		{"no event key", models.RegisterTriggerRequest{TemplateID: tmpl.ID, Name: "x"}, domain.ErrValidation},
		{"unknown template", models.RegisterTriggerRequest{TemplateID: 999, Name: "x", EventKey: "k"}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.RegisterTrigger(context.Background(), tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	// Type defaults to event; manual triggers need no event key.
	trig, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "on-signup", EventKey: "user.signup",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerEvent, trig.Type)
	assert.True(t, trig.Enabled)

	_, err = f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "by-hand", Type: string(domain.TriggerManual),
	})
	require.NoError(t, err)
}

func TestHandleEvent_FiresMatchingTriggers(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "onboarding",
		Steps: []domain.Step{taskStep("a")},
	})

	matching, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "eu-signups", EventKey: "user.signup",
		Conditions: []domain.Condition{{Field: "region", Operator: domain.OpEq, Value: "eu"}},
	})
	require.NoError(t, err)
	nonMatching, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "us-signups", EventKey: "user.signup",
		Conditions: []domain.Condition{{Field: "region", Operator: domain.OpEq, Value: "us"}},
	})
	require.NoError(t, err)
	otherKey, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "churn", EventKey: "user.churn",
	})
	require.NoError(t, err)

	fired, err := f.engine.HandleEvent(context.Background(),
		"user.signup", map[string]any{"region": "eu", "userId": "u-7"}, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// The payload seeds the instance variables.
	instances, err := f.instances.Search(models.SearchInstancesRequest{TemplateID: tmpl.ID})
	require.NoError(t, err)
	require.Len(t, *instances, 1)
	assert.Equal(t, "u-7", (*instances)[0].Variables["userId"])

	got, _ := f.triggers.FindByID(matching.ID)
	assert.Equal(t, int64(1), got.FireCount)
	assert.True(t, got.LastFired.Valid)
	got, _ = f.triggers.FindByID(nonMatching.ID)
	assert.Equal(t, int64(0), got.FireCount)
	got, _ = f.triggers.FindByID(otherKey.ID)
	assert.Equal(t, int64(0), got.FireCount)
}

func TestHandleEvent_EmptyConditionsMatchEverything(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "audit",
		Steps: []domain.Step{taskStep("a")},
	})
	_, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "all", EventKey: "order.placed",
	})
	require.NoError(t, err)

	fired, err := f.engine.HandleEvent(context.Background(), "order.placed", nil, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestHandleEvent_DisabledTriggerDoesNotFire(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "audit",
		Steps: []domain.Step{taskStep("a")},
	})
	trig, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "all", EventKey: "order.placed",
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.SetTriggerEnabled(trig.ID, false))

	fired, err := f.engine.HandleEvent(context.Background(), "order.placed", nil, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// Re-enabling keeps the counters.
	require.NoError(t, f.engine.SetTriggerEnabled(trig.ID, true))
	got, _ := f.triggers.FindByID(trig.ID)
	assert.True(t, got.Enabled)
	assert.Equal(t, int64(0), got.FireCount)
}

func TestHandleEvent_BrokenTriggerIsIsolated(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "audit",
		Steps: []domain.Step{taskStep("a")},
	})

	// Unknown operator makes evaluation fail for this trigger only.
	broken, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "broken", EventKey: "order.placed",
		Conditions: []domain.Condition{{Field: "total", Operator: "between", Value: 10}},
	})
	require.NoError(t, err)
	healthy, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "healthy", EventKey: "order.placed",
	})
	require.NoError(t, err)

	fired, err := f.engine.HandleEvent(context.Background(), "order.placed", map[string]any{"total": float64(20)}, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	got, _ := f.triggers.FindByID(broken.ID)
	assert.Equal(t, int64(1), got.ErrorCount)
	assert.Equal(t, int64(0), got.FireCount)
	got, _ = f.triggers.FindByID(healthy.ID)
	assert.Equal(t, int64(1), got.FireCount)
}

func TestHandleEvent_InactiveTemplateBumpsErrorCount(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, domain.WorkflowTemplate{
		Name:  "retired",
		Steps: []domain.Step{taskStep("a")},
	})
	trig, err := f.engine.RegisterTrigger(context.Background(), models.RegisterTriggerRequest{
		TemplateID: tmpl.ID, Name: "stale", EventKey: "order.placed",
	})
	require.NoError(t, err)
	require.NoError(t, f.templates.SetActive(tmpl.ID, false))

	fired, err := f.engine.HandleEvent(context.Background(), "order.placed", nil, "webhook")
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	got, _ := f.triggers.FindByID(trig.ID)
	assert.Equal(t, int64(1), got.ErrorCount)
}
