package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

const rollbackColumns = ` id, external_id, instance_id, reason, status, snapshot, steps, created, completed `

// RollbackRepository persists per-instance compensation records.
type RollbackRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewRollbackRepository(db *sql.DB, clock core.Clock) *RollbackRepository {
	return &RollbackRepository{db: db, clock: clock}
}

func (r *RollbackRepository) scan(scan func(dest ...any) error) (*domain.WorkflowRollback, error) {
	var rb domain.WorkflowRollback
	var snapshot, steps sql.NullString
	err := scan(
		&rb.ID, &rb.ExternalID, &rb.InstanceID, &rb.Reason, &rb.Status, &snapshot, &steps,
		&rb.Created, &rb.Completed,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(snapshot, &rb.Snapshot); err != nil {
		return nil, err
	}
	if err := decodeJSON(steps, &rb.Steps); err != nil {
		return nil, err
	}
	return &rb, nil
}

func (r *RollbackRepository) Save(rb *domain.WorkflowRollback) (int64, error) {
	snapshot, err := encodeJSON(rb.Snapshot)
	if err != nil {
		return 0, err
	}
	steps, err := encodeJSON(rb.Steps)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		rb.ExternalID, rb.InstanceID, rb.Reason, string(rb.Status), snapshot.String, steps.String,
		formatDateInDatabase(rb.Created), formatDateInDatabaseNull(rb.Completed),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_rollback (
		external_id, instance_id, reason, status, snapshot, steps, created, completed
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&rb.ID)
		return rb.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	rb.ID = id
	return id, nil
}

// Update records per-step compensation outcomes as the walk progresses.
func (r *RollbackRepository) Update(rb *domain.WorkflowRollback) error {
	steps, err := encodeJSON(rb.Steps)
	if err != nil {
		return err
	}
	query := `
		UPDATE workflow_rollback
		SET status = ` + placeholder(1) + `,
		    steps = ` + placeholder(2) + `,
		    completed = ` + placeholder(3) + `
		WHERE id = ` + placeholder(4) + `
	`
	_, err = r.db.Exec(query, string(rb.Status), steps.String,
		formatDateInDatabaseNull(rb.Completed), rb.ID)
	return err
}

// FindByInstance returns the most recent rollback record for an instance.
func (r *RollbackRepository) FindByInstance(instanceID int64) (*domain.WorkflowRollback, error) {
	query := `SELECT` + rollbackColumns + `FROM workflow_rollback
		WHERE instance_id = ` + placeholder(1) + `
		ORDER BY id DESC LIMIT 1`
	row := r.db.QueryRow(query, instanceID)
	return r.scan(row.Scan)
}
