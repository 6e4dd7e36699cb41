package domain

import (
	"database/sql"
	"time"
)

// RollbackStatus reflects whether every compensation in the walk succeeded.
// Partial rollback is a valid terminal outcome.
type RollbackStatus string

const (
	RollbackRunning   RollbackStatus = "running"
	RollbackCompleted RollbackStatus = "completed"
	RollbackPartial   RollbackStatus = "partial"
)

// RollbackStepStatus is the outcome of one compensating action.
type RollbackStepStatus string

const (
	RollbackStepPending   RollbackStepStatus = "pending"
	RollbackStepCompleted RollbackStepStatus = "completed"
	RollbackStepFailed    RollbackStepStatus = "failed"
	RollbackStepSkipped   RollbackStepStatus = "skipped"
)

// RollbackStep is one compensating action in the reverse walk.
type RollbackStep struct {
	StepID string             `json:"stepId"`
	Action string             `json:"action"`
	Status RollbackStepStatus `json:"status"`
	Result map[string]any     `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// InstanceSnapshot captures the instance state at rollback time.
type InstanceSnapshot struct {
	Status         InstanceStatus `json:"status"`
	CurrentStepID  string         `json:"currentStepId,omitempty"`
	CompletedSteps []string       `json:"completedSteps"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// WorkflowRollback is the per-instance compensation record.
type WorkflowRollback struct {
	ID         int64
	ExternalID string
	InstanceID int64
	Reason     string
	Status     RollbackStatus
	Snapshot   InstanceSnapshot
	Steps      []RollbackStep
	Created    time.Time
	Completed  sql.NullTime
}
