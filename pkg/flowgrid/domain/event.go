package domain

import "time"

// EventType enumerates the transitions recorded in the event log.
type EventType string

const (
	EventStarted       EventType = "started"
	EventStepCompleted EventType = "step_completed"
	EventStepFailed    EventType = "step_failed"
	EventPaused        EventType = "paused"
	EventResumed       EventType = "resumed"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventCancelled     EventType = "cancelled"
	EventRolledBack    EventType = "rolled_back"
	EventEscalated     EventType = "escalated"
)

// SystemActor is recorded when the engine itself causes a transition
// (escalation auto-decisions, scheduler fires, retries).
const SystemActor = "system"

// EventLogEntry is one append-only audit record. Entries are never mutated
// and are the source of truth for analytics rebuilds.
type EventLogEntry struct {
	ID         int64
	InstanceID int64
	Type       EventType
	Actor      string
	Detail     map[string]any
	Created    time.Time
}
