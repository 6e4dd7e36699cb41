package models

import (
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// PublishTemplateRequest is the payload for publishing a template version.
type PublishTemplateRequest struct {
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	EntryStepID string            `json:"entryStepId"`
	Steps       []domain.Step     `json:"steps"`
	Variables   []domain.Variable `json:"variables,omitempty"`
}

// CreateInstanceRequest is the payload for starting a new instance.
// ExternalID is optional; creating twice with the same external id returns
// the existing instance instead of a duplicate.
type CreateInstanceRequest struct {
	TemplateID int64          `json:"templateId"`
	ExternalID string         `json:"externalId,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// TransitionRequest asks the state machine for a status change.
type TransitionRequest struct {
	TargetStatus string `json:"targetStatus"`
}

// StepResultRequest delivers the outcome of an externally executed step
// attempt. Delivery is at-least-once; the engine is idempotent per
// (instance, step, attempt).
type StepResultRequest struct {
	Attempt int            `json:"attempt"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// DecisionRequest records one approver's decision on a chain.
type DecisionRequest struct {
	ApproverID string `json:"approverId"`
	Approved   bool   `json:"approved"`
	Comments   string `json:"comments,omitempty"`
}

// RollbackRequest starts compensation for a failed or cancelled instance.
type RollbackRequest struct {
	Reason string `json:"reason"`
}

// RegisterTriggerRequest binds a firing rule to an existing template.
type RegisterTriggerRequest struct {
	TemplateID int64              `json:"templateId"`
	Name       string             `json:"name"`
	Type       string             `json:"type"`
	EventKey   string             `json:"eventKey,omitempty"`
	Conditions []domain.Condition `json:"conditions,omitempty"`
}

// RegisterScheduleRequest binds a cron schedule to an existing template.
type RegisterScheduleRequest struct {
	TemplateID int64  `json:"templateId"`
	CronExpr   string `json:"cronExpr"`
	Timezone   string `json:"timezone,omitempty"`
}

// IngestEventRequest is an inbound event evaluated against enabled triggers.
type IngestEventRequest struct {
	EventKey string         `json:"eventKey"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// LoginRequest opens a browser session.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SearchInstancesRequest filters the instance listing.
type SearchInstancesRequest struct {
	TemplateID int64  `json:"templateId,omitempty"`
	Status     string `json:"status,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
