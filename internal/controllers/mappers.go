package controllers

import (
	"database/sql"
	"time"

	"github.com/flowgrid/flowgrid/internal/repository"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

func mapTemplateToApi(t *domain.WorkflowTemplate) models.TemplateApiResponse {
	return models.TemplateApiResponse{
		ID:          t.ID,
		Name:        t.Name,
		Category:    t.Category,
		Version:     t.Version,
		Active:      t.Active,
		EntryStepID: t.EntryStepID,
		Steps:       t.Steps,
		Variables:   t.Variables,
		CreatedBy:   t.CreatedBy,
		Created:     t.Created,
	}
}

func mapInstanceToApi(w *domain.WorkflowInstance) models.InstanceApiResponse {
	return models.InstanceApiResponse{
		ID:              w.ID,
		ExternalID:      w.ExternalID,
		TemplateID:      w.TemplateID,
		TemplateName:    w.TemplateName,
		TemplateVersion: w.TemplateVersion,
		Status:          string(w.Status),
		CurrentStepID:   w.CurrentStepID,
		Variables:       w.Variables,
		CompletedSteps:  w.CompletedSteps,
		FailedSteps:     w.FailedSteps,
		Created:         w.Created,
		Modified:        w.Modified,
		Started:         nullTimePtr(w.Started),
		Completed:       nullTimePtr(w.Completed),
		Cancelled:       nullTimePtr(w.Cancelled),
		DurationMs:      nullInt64Ptr(w.DurationMs),
		CreatedBy:       w.CreatedBy,
	}
}

func mapStepExecutionToApi(e *domain.StepExecution) models.StepExecutionApiResponse {
	return models.StepExecutionApiResponse{
		ID:         e.ID,
		InstanceID: e.InstanceID,
		StepID:     e.StepID,
		Attempt:    e.Attempt,
		Status:     string(e.Status),
		Input:      e.Input,
		Output:     e.Output,
		Error:      e.Error.String,
		RetryCount: e.RetryCount,
		Started:    e.Started,
		Completed:  nullTimePtr(e.Completed),
	}
}

func mapChainToApi(c *domain.ApprovalChain) models.ChainApiResponse {
	return models.ChainApiResponse{
		ID:           c.ID,
		ExternalID:   c.ExternalID,
		InstanceID:   c.InstanceID,
		StepID:       c.StepID,
		RequireAll:   c.RequireAll,
		Sequential:   c.Sequential,
		Status:       string(c.Status),
		CurrentIndex: c.CurrentIndex,
		Approvers:    c.Approvers,
	}
}

func mapEventToApi(e *domain.EventLogEntry) models.EventApiResponse {
	return models.EventApiResponse{
		ID:         e.ID,
		InstanceID: e.InstanceID,
		Type:       string(e.Type),
		Actor:      e.Actor,
		Detail:     e.Detail,
		Created:    e.Created,
	}
}

func mapRollbackToApi(rb *domain.WorkflowRollback) models.RollbackApiResponse {
	return models.RollbackApiResponse{
		ID:         rb.ID,
		ExternalID: rb.ExternalID,
		InstanceID: rb.InstanceID,
		Reason:     rb.Reason,
		Status:     string(rb.Status),
		Snapshot:   rb.Snapshot,
		Steps:      rb.Steps,
		Created:    rb.Created,
		Completed:  nullTimePtr(rb.Completed),
	}
}

func mapTriggerToApi(t *domain.WorkflowTrigger) models.TriggerApiResponse {
	return models.TriggerApiResponse{
		ID:         t.ID,
		TemplateID: t.TemplateID,
		Name:       t.Name,
		Type:       string(t.Type),
		EventKey:   t.EventKey,
		Conditions: t.Conditions,
		Enabled:    t.Enabled,
		LastFired:  nullTimePtr(t.LastFired),
		FireCount:  t.FireCount,
		ErrorCount: t.ErrorCount,
	}
}

func mapScheduleToApi(s *domain.WorkflowSchedule) models.ScheduleApiResponse {
	return models.ScheduleApiResponse{
		ID:         s.ID,
		TemplateID: s.TemplateID,
		CronExpr:   s.CronExpr,
		Timezone:   s.Timezone,
		Enabled:    s.Enabled,
		NextRun:    nullTimePtr(s.NextRun),
		LastRun:    nullTimePtr(s.LastRun),
		FireCount:  s.FireCount,
		ErrorCount: s.ErrorCount,
	}
}

func mapTemplateStatsToApi(rows []repository.TemplateStatsRow) []models.TemplateStatsResponse {
	out := make([]models.TemplateStatsResponse, 0, len(rows))
	for _, row := range rows {
		total := row.CompletedRuns + row.FailedRuns + row.RolledBack
		rate := 0.0
		if total > 0 {
			rate = float64(row.CompletedRuns) / float64(total)
		}
		out = append(out, models.TemplateStatsResponse{
			TemplateID:    row.TemplateID,
			TemplateName:  row.TemplateName,
			CompletedRuns: row.CompletedRuns,
			FailedRuns:    row.FailedRuns,
			RolledBack:    row.RolledBack,
			SuccessRate:   rate,
			AvgDurationMs: row.AvgDurationMs.Float64,
		})
	}
	return out
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
