package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

const triggerColumns = ` id, template_id, name, type, event_key, conditions, enabled,
		last_fired, fire_count, error_count, created, modified `

// TriggerRepository persists trigger registrations and their fire/error counters.
type TriggerRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewTriggerRepository(db *sql.DB, clock core.Clock) *TriggerRepository {
	return &TriggerRepository{db: db, clock: clock}
}

func (r *TriggerRepository) scan(scan func(dest ...any) error) (*domain.WorkflowTrigger, error) {
	var t domain.WorkflowTrigger
	var conditions sql.NullString
	err := scan(
		&t.ID, &t.TemplateID, &t.Name, &t.Type, &t.EventKey, &conditions, &t.Enabled,
		&t.LastFired, &t.FireCount, &t.ErrorCount, &t.Created, &t.Modified,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(conditions, &t.Conditions); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TriggerRepository) Save(t *domain.WorkflowTrigger) (int64, error) {
	conditions, err := encodeJSON(t.Conditions)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		t.TemplateID, t.Name, string(t.Type), t.EventKey, conditions, t.Enabled,
		formatDateInDatabaseNull(t.LastFired), t.FireCount, t.ErrorCount,
		formatDateInDatabase(t.Created), formatDateInDatabase(t.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_trigger (
		template_id, name, type, event_key, conditions, enabled,
		last_fired, fire_count, error_count, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&t.ID)
		return t.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *TriggerRepository) FindByID(id int64) (*domain.WorkflowTrigger, error) {
	query := `SELECT` + triggerColumns + `FROM workflow_trigger WHERE id = ` + placeholder(1)
	row := r.db.QueryRow(query, id)
	return r.scan(row.Scan)
}

// FindEnabledByEvent returns the enabled triggers listening for an event key.
func (r *TriggerRepository) FindEnabledByEvent(eventKey string) (*[]domain.WorkflowTrigger, error) {
	query := `SELECT` + triggerColumns + `FROM workflow_trigger
		WHERE enabled = ` + boolLiteral(true) + ` AND event_key = ` + placeholder(1) + `
		ORDER BY id ASC`
	rows, err := r.db.Query(query, eventKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []domain.WorkflowTrigger
	for rows.Next() {
		t, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	return &triggers, nil
}

// MarkFired bumps the fire counter and last-fired timestamp.
func (r *TriggerRepository) MarkFired(id int64) error {
	query := `
		UPDATE workflow_trigger
		SET fire_count = fire_count + 1, last_fired = ` + nowFunc(r.clock) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// MarkError bumps the error counter; evaluation failures are counted, never raised.
func (r *TriggerRepository) MarkError(id int64) error {
	query := `
		UPDATE workflow_trigger
		SET error_count = error_count + 1, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// SetEnabled flips the enabled flag.
func (r *TriggerRepository) SetEnabled(id int64, enabled bool) error {
	query := `
		UPDATE workflow_trigger
		SET enabled = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, enabled, id)
	return err
}

func boolLiteral(b bool) string {
	if supportsReturning() {
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
	if b {
		return "1"
	}
	return "0"
}
