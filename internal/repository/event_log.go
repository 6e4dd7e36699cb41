package repository

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// EventLogRepository appends audit entries. Rows are never updated or deleted.
type EventLogRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewEventLogRepository(db *sql.DB, clock core.Clock) *EventLogRepository {
	return &EventLogRepository{db: db, clock: clock}
}

func (r *EventLogRepository) Append(e *domain.EventLogEntry) (int64, error) {
	detail, err := encodeJSON(e.Detail)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{e.InstanceID, string(e.Type), e.Actor, detail, formatDateInDatabase(e.Created)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_event (instance_id, type, actor, detail, created)
		VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&e.ID)
	} else {
		res, e2 := r.db.Exec(base, vals...)
		if e2 != nil {
			err = e2
		} else {
			id, e3 := res.LastInsertId()
			if e3 != nil {
				err = e3
			} else {
				e.ID = id
			}
		}
	}
	if err != nil {
		slog.Error("Failed to append workflow event", "error", err, "instance_id", e.InstanceID, "type", e.Type)
	}
	return e.ID, err
}

// FindByInstance returns the audit trail of one instance, oldest first.
func (r *EventLogRepository) FindByInstance(instanceID int64) (*[]domain.EventLogEntry, error) {
	query := `
		SELECT id, instance_id, type, actor, detail, created
		FROM workflow_event
		WHERE instance_id = ` + placeholder(1) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.EventLogEntry
	for rows.Next() {
		var e domain.EventLogEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Type, &e.Actor, &detail, &e.Created); err != nil {
			return nil, err
		}
		if err := decodeJSON(detail, &e.Detail); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &entries, nil
}
