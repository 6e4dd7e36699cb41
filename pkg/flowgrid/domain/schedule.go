package domain

import (
	"database/sql"
	"time"
)

// WorkflowSchedule binds a template to a cron expression and timezone.
// NextRun is always recomputed from the persisted row, never from an
// in-memory timer, so process restarts are safe. A missed wall-clock tick
// fires at most once on the next check.
type WorkflowSchedule struct {
	ID         int64
	TemplateID int64
	CronExpr   string
	Timezone   string
	Enabled    bool
	NextRun    sql.NullTime
	LastRun    sql.NullTime
	FireCount  int64
	ErrorCount int64
	Version    int64
	Created    time.Time
	Modified   time.Time
}
