package domain

import "time"

// StepType enumerates the supported step handlers.
type StepType string

const (
	StepTask         StepType = "task"
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
	StepCondition    StepType = "condition"
	StepDelay        StepType = "delay"
	StepWebhook      StepType = "webhook"
	StepScript       StepType = "script"
)

// EscalationAction is what happens to an approver slot when its deadline lapses.
type EscalationAction string

const (
	EscalateNotify      EscalationAction = "notify"
	EscalateReassign    EscalationAction = "reassign"
	EscalateAutoApprove EscalationAction = "auto_approve"
	EscalateAutoReject  EscalationAction = "auto_reject"
)

// EscalationRule configures deadline handling for an approval step.
type EscalationRule struct {
	Action     EscalationAction `json:"action"`
	ReassignTo string           `json:"reassignTo,omitempty"`
}

// Compensation declares the undo action invoked for a completed step during rollback.
type Compensation struct {
	Action string         `json:"action"`
	Config map[string]any `json:"config,omitempty"`
}

// NextStep is one outgoing edge of a step. A nil Condition is an unconditional
// (default) edge; edges are evaluated in declared order, first match wins.
type NextStep struct {
	StepID    string     `json:"stepId"`
	Condition *Condition `json:"condition,omitempty"`
}

// Step is one unit of work inside a template.
type Step struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Type               StepType        `json:"type"`
	Config             map[string]any  `json:"config,omitempty"`
	NextSteps          []NextStep      `json:"nextSteps,omitempty"`
	Assignees          []string        `json:"assignees,omitempty"`
	Approvers          []string        `json:"approvers,omitempty"`
	RequireAll         bool            `json:"requireAll,omitempty"`
	Sequential         bool            `json:"sequential,omitempty"`
	TimeoutMs          int64           `json:"timeoutMs,omitempty"`
	MaxRetries         int             `json:"maxRetries,omitempty"`
	RetryDelayMs       int64           `json:"retryDelayMs,omitempty"`
	ApprovalDeadlineMs int64           `json:"approvalDeadlineMs,omitempty"`
	Escalation         *EscalationRule `json:"escalation,omitempty"`
	Compensation       *Compensation   `json:"compensation,omitempty"`
}

// Variable is a typed template variable with an optional default.
type Variable struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  any    `json:"default,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// WorkflowTemplate is one immutable version of a declarative workflow
// definition. Publishing the same name again creates a new row with a bumped
// version; rows referenced by instances are never mutated.
type WorkflowTemplate struct {
	ID          int64
	Name        string
	Category    string
	Version     int
	Active      bool
	EntryStepID string
	Steps       []Step
	Variables   []Variable
	CreatedBy   string
	Created     time.Time
	Modified    time.Time
}

// StepByID returns the step declaration with the given id, or nil.
func (t *WorkflowTemplate) StepByID(id string) *Step {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i]
		}
	}
	return nil
}

// DefaultVariables returns the declared defaults as a runtime binding map.
func (t *WorkflowTemplate) DefaultVariables() map[string]any {
	vars := make(map[string]any)
	for _, v := range t.Variables {
		if v.Default != nil {
			vars[v.Name] = v.Default
		}
	}
	return vars
}
