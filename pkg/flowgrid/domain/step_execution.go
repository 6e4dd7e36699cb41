package domain

import (
	"database/sql"
	"time"
)

// StepStatus is the lifecycle of a single step attempt.
type StepStatus string

const (
	StepStatusPending         StepStatus = "pending"
	StepStatusRunning         StepStatus = "running"
	StepStatusCompleted       StepStatus = "completed"
	StepStatusFailed          StepStatus = "failed"
	StepStatusSkipped         StepStatus = "skipped"
	StepStatusWaitingApproval StepStatus = "waiting_approval"
)

// StepExecution is one row per (instance, step, attempt). Append-only except
// for status/output mutation while the attempt is still open.
type StepExecution struct {
	ID         int64
	InstanceID int64
	StepID     string
	Attempt    int
	Status     StepStatus
	Input      map[string]any
	Output     map[string]any
	Error      sql.NullString
	RetryCount int
	MaxRetries int
	Started    time.Time
	Completed  sql.NullTime
	DurationMs sql.NullInt64
}

// Open reports whether the attempt can still receive a result.
func (e *StepExecution) Open() bool {
	return e.Status == StepStatusPending || e.Status == StepStatusRunning ||
		e.Status == StepStatusWaitingApproval
}
