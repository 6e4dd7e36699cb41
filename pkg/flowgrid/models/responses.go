package models

import (
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// TemplateApiResponse is the wire form of a published template version.
type TemplateApiResponse struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Version     int               `json:"version"`
	Active      bool              `json:"active"`
	EntryStepID string            `json:"entryStepId"`
	Steps       []domain.Step     `json:"steps"`
	Variables   []domain.Variable `json:"variables,omitempty"`
	CreatedBy   string            `json:"createdBy,omitempty"`
	Created     time.Time         `json:"created"`
}

// InstanceApiResponse is the wire form of a workflow instance.
type InstanceApiResponse struct {
	ID              int64               `json:"id"`
	ExternalID      string              `json:"externalId,omitempty"`
	TemplateID      int64               `json:"templateId"`
	TemplateName    string              `json:"templateName"`
	TemplateVersion int                 `json:"templateVersion"`
	Status          string              `json:"status"`
	CurrentStepID   string              `json:"currentStepId,omitempty"`
	Variables       map[string]any      `json:"variables,omitempty"`
	CompletedSteps  []string            `json:"completedSteps,omitempty"`
	FailedSteps     []domain.FailedStep `json:"failedSteps,omitempty"`
	Created         time.Time           `json:"created"`
	Modified        time.Time           `json:"modified"`
	Started         *time.Time          `json:"started,omitempty"`
	Completed       *time.Time          `json:"completed,omitempty"`
	Cancelled       *time.Time          `json:"cancelled,omitempty"`
	DurationMs      *int64              `json:"durationMs,omitempty"`
	CreatedBy       string              `json:"createdBy,omitempty"`
}

// StepExecutionApiResponse is the wire form of one step attempt.
type StepExecutionApiResponse struct {
	ID         int64          `json:"id"`
	InstanceID int64          `json:"instanceId"`
	StepID     string         `json:"stepId"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retryCount"`
	Started    time.Time      `json:"started"`
	Completed  *time.Time     `json:"completed,omitempty"`
}

// ChainApiResponse is the wire form of an approval chain.
type ChainApiResponse struct {
	ID           int64             `json:"id"`
	ExternalID   string            `json:"externalId"`
	InstanceID   int64             `json:"instanceId"`
	StepID       string            `json:"stepId"`
	RequireAll   bool              `json:"requireAll"`
	Sequential   bool              `json:"sequential"`
	Status       string            `json:"status"`
	CurrentIndex int               `json:"currentIndex"`
	Approvers    []domain.Approver `json:"approvers"`
}

// CreateResponse is returned by creation endpoints.
type CreateResponse struct {
	ID int64 `json:"id"`
}

// TriggerApiResponse is the wire form of a registered trigger.
type TriggerApiResponse struct {
	ID         int64              `json:"id"`
	TemplateID int64              `json:"templateId"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	EventKey   string             `json:"eventKey,omitempty"`
	Conditions []domain.Condition `json:"conditions,omitempty"`
	Enabled    bool               `json:"enabled"`
	LastFired  *time.Time         `json:"lastFired,omitempty"`
	FireCount  int64              `json:"fireCount"`
	ErrorCount int64              `json:"errorCount"`
}

// ScheduleApiResponse is the wire form of a registered schedule.
type ScheduleApiResponse struct {
	ID         int64      `json:"id"`
	TemplateID int64      `json:"templateId"`
	CronExpr   string     `json:"cronExpr"`
	Timezone   string     `json:"timezone"`
	Enabled    bool       `json:"enabled"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	FireCount  int64      `json:"fireCount"`
	ErrorCount int64      `json:"errorCount"`
}

// EventApiResponse is the wire form of one audit log entry.
type EventApiResponse struct {
	ID         int64          `json:"id"`
	InstanceID int64          `json:"instanceId"`
	Type       string         `json:"type"`
	Actor      string         `json:"actor"`
	Detail     map[string]any `json:"detail,omitempty"`
	Created    time.Time      `json:"created"`
}

// RollbackApiResponse is the wire form of a compensation record.
type RollbackApiResponse struct {
	ID         int64                   `json:"id"`
	ExternalID string                  `json:"externalId"`
	InstanceID int64                   `json:"instanceId"`
	Reason     string                  `json:"reason,omitempty"`
	Status     string                  `json:"status"`
	Snapshot   domain.InstanceSnapshot `json:"snapshot"`
	Steps      []domain.RollbackStep   `json:"steps"`
	Created    time.Time               `json:"created"`
	Completed  *time.Time              `json:"completed,omitempty"`
}

// LoginResponse carries the session handle for non-cookie clients.
type LoginResponse struct {
	SessionID string    `json:"sessionId"`
	Expiry    time.Time `json:"expiry"`
}

// TemplateStatsResponse aggregates terminal outcomes for one template.
type TemplateStatsResponse struct {
	TemplateID    int64   `json:"templateId"`
	TemplateName  string  `json:"templateName"`
	CompletedRuns int64   `json:"completedRuns"`
	FailedRuns    int64   `json:"failedRuns"`
	RolledBack    int64   `json:"rolledBack"`
	SuccessRate   float64 `json:"successRate"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}
