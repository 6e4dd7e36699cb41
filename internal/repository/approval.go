package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

const chainColumns = ` id, external_id, instance_id, step_id, require_all, sequential, status,
		current_index, approvers, version, created, modified `

// ApprovalRepository persists approval chains. Approver slots are embedded in
// the chain row so a decision is a single-aggregate write.
type ApprovalRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewApprovalRepository(db *sql.DB, clock core.Clock) *ApprovalRepository {
	return &ApprovalRepository{db: db, clock: clock}
}

func (r *ApprovalRepository) scan(scan func(dest ...any) error) (*domain.ApprovalChain, error) {
	var c domain.ApprovalChain
	var approvers sql.NullString
	err := scan(
		&c.ID, &c.ExternalID, &c.InstanceID, &c.StepID, &c.RequireAll, &c.Sequential, &c.Status,
		&c.CurrentIndex, &approvers, &c.Version, &c.Created, &c.Modified,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(approvers, &c.Approvers); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ApprovalRepository) Save(c *domain.ApprovalChain) (int64, error) {
	approvers, err := encodeJSON(c.Approvers)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		c.ExternalID, c.InstanceID, c.StepID, c.RequireAll, c.Sequential, string(c.Status),
		c.CurrentIndex, approvers.String, c.Version,
		formatDateInDatabase(c.Created), formatDateInDatabase(c.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO approval_chain (
		external_id, instance_id, step_id, require_all, sequential, status,
		current_index, approvers, version, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&c.ID)
		return c.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

// Update writes the chain behind an optimistic version check.
func (r *ApprovalRepository) Update(c *domain.ApprovalChain) error {
	approvers, err := encodeJSON(c.Approvers)
	if err != nil {
		return err
	}
	query := `
		UPDATE approval_chain
		SET status = ` + placeholder(1) + `,
		    current_index = ` + placeholder(2) + `,
		    approvers = ` + placeholder(3) + `,
		    version = version + 1,
		    modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(4) + ` AND version = ` + placeholder(5) + `
	`
	res, err := r.db.Exec(query, string(c.Status), c.CurrentIndex, approvers.String, c.ID, c.Version)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return domain.ErrConcurrentModification
	}
	c.Version++
	return nil
}

func (r *ApprovalRepository) FindByID(id int64) (*domain.ApprovalChain, error) {
	query := `SELECT` + chainColumns + `FROM approval_chain WHERE id = ` + placeholder(1)
	row := r.db.QueryRow(query, id)
	return r.scan(row.Scan)
}

// FindOpenByInstanceStep returns the pending chain of one approval step.
func (r *ApprovalRepository) FindOpenByInstanceStep(instanceID int64, stepID string) (*domain.ApprovalChain, error) {
	query := `SELECT` + chainColumns + `FROM approval_chain
		WHERE instance_id = ` + placeholder(1) + ` AND step_id = ` + placeholder(2) + ` AND status = 'pending'
		ORDER BY id DESC LIMIT 1`
	row := r.db.QueryRow(query, instanceID, stepID)
	return r.scan(row.Scan)
}

// FindPending lists open chains for the escalation sweep; deadline expiry is
// evaluated in Go against the embedded approver slots.
func (r *ApprovalRepository) FindPending(limit int) (*[]domain.ApprovalChain, error) {
	query := `SELECT` + chainColumns + `FROM approval_chain
		WHERE status = 'pending'
		ORDER BY id ASC
		LIMIT ` + placeholder(1)
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []domain.ApprovalChain
	for rows.Next() {
		c, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		chains = append(chains, *c)
	}
	return &chains, nil
}
