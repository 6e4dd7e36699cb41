package domain

import (
	"database/sql"
	"time"
)

// TriggerType is how a trigger is fired.
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerCondition TriggerType = "condition"
	TriggerWebhook   TriggerType = "webhook"
	TriggerManual    TriggerType = "manual"
)

// WorkflowTrigger binds a template to a firing condition. An inbound event
// whose key matches EventKey is tested against Conditions; an empty condition
// list always matches.
type WorkflowTrigger struct {
	ID         int64
	TemplateID int64
	Name       string
	Type       TriggerType
	EventKey   string
	Conditions []Condition
	Enabled    bool
	LastFired  sql.NullTime
	FireCount  int64
	ErrorCount int64
	Created    time.Time
	Modified   time.Time
}
