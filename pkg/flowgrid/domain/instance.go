package domain

import (
	"database/sql"
	"time"
)

// InstanceStatus is the bounded lifecycle state of a workflow instance.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusRunning    InstanceStatus = "running"
	StatusPaused     InstanceStatus = "paused"
	StatusCompleted  InstanceStatus = "completed"
	StatusFailed     InstanceStatus = "failed"
	StatusCancelled  InstanceStatus = "cancelled"
	StatusRolledBack InstanceStatus = "rolled_back"
)

// FailedStep records a step that exhausted its retries, kept on the instance so
// "what failed and why" is answerable without replaying the event log.
type FailedStep struct {
	StepID     string `json:"stepId"`
	Error      string `json:"error"`
	RetryCount int    `json:"retryCount"`
}

// WorkflowInstance is one running (or terminal) execution of a template
// version. It is the aggregate root: all writes go through an optimistic
// version check, so at most one worker advances an instance at a time.
type WorkflowInstance struct {
	ID              int64
	ExternalID      string
	TemplateID      int64
	TemplateName    string
	TemplateVersion int
	Status          InstanceStatus
	CurrentStepID   string // empty when terminal
	Variables       map[string]any
	CompletedSteps  []string
	FailedSteps     []FailedStep
	Version         int64
	Created         time.Time
	Modified        time.Time
	NextActivation  sql.NullTime
	Started         sql.NullTime
	Paused          sql.NullTime
	Completed       sql.NullTime
	Cancelled       sql.NullTime
	DurationMs      sql.NullInt64
	ExecutorID      sql.NullInt64
	CreatedBy       string
}

// Terminal reports whether the status admits no outbound transition edges.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasCompleted reports whether the given step id is already in CompletedSteps.
func (w *WorkflowInstance) HasCompleted(stepID string) bool {
	for _, id := range w.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// FinishedAt returns the timestamp that closed the instance, if any.
func (w *WorkflowInstance) FinishedAt() sql.NullTime {
	if w.Completed.Valid {
		return w.Completed
	}
	return w.Cancelled
}
