package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

const stepExecutionColumns = ` id, instance_id, step_id, attempt, status, input, output, error,
		retry_count, max_retries, started, completed, duration_ms `

// StepExecutionRepository persists one row per (instance, step, attempt).
// The unique key on that triple backs the idempotence of recordStepResult.
type StepExecutionRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewStepExecutionRepository(db *sql.DB, clock core.Clock) *StepExecutionRepository {
	return &StepExecutionRepository{db: db, clock: clock}
}

func (r *StepExecutionRepository) scan(scan func(dest ...any) error) (*domain.StepExecution, error) {
	var e domain.StepExecution
	var input, output sql.NullString
	err := scan(
		&e.ID, &e.InstanceID, &e.StepID, &e.Attempt, &e.Status, &input, &output, &e.Error,
		&e.RetryCount, &e.MaxRetries, &e.Started, &e.Completed, &e.DurationMs,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(input, &e.Input); err != nil {
		return nil, err
	}
	if err := decodeJSON(output, &e.Output); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *StepExecutionRepository) Save(e *domain.StepExecution) (int64, error) {
	input, err := encodeJSON(e.Input)
	if err != nil {
		return 0, err
	}
	output, err := encodeJSON(e.Output)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		e.InstanceID, e.StepID, e.Attempt, string(e.Status), input, output, e.Error,
		e.RetryCount, e.MaxRetries, formatDateInDatabase(e.Started),
		formatDateInDatabaseNull(e.Completed), e.DurationMs,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO step_execution (
		instance_id, step_id, attempt, status, input, output, error,
		retry_count, max_retries, started, completed, duration_ms
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&e.ID)
		return e.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

// Update mutates an open attempt's status/output/error fields.
func (r *StepExecutionRepository) Update(e *domain.StepExecution) error {
	output, err := encodeJSON(e.Output)
	if err != nil {
		return err
	}
	query := `
		UPDATE step_execution
		SET status = ` + placeholder(1) + `,
		    output = ` + placeholder(2) + `,
		    error = ` + placeholder(3) + `,
		    retry_count = ` + placeholder(4) + `,
		    completed = ` + placeholder(5) + `,
		    duration_ms = ` + placeholder(6) + `
		WHERE id = ` + placeholder(7) + `
	`
	_, err = r.db.Exec(query, string(e.Status), output, e.Error, e.RetryCount,
		formatDateInDatabaseNull(e.Completed), e.DurationMs, e.ID)
	return err
}

// Find returns the attempt row for the idempotency key, or domain.ErrNotFound.
func (r *StepExecutionRepository) Find(instanceID int64, stepID string, attempt int) (*domain.StepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `FROM step_execution
		WHERE instance_id = ` + placeholder(1) + ` AND step_id = ` + placeholder(2) + ` AND attempt = ` + placeholder(3)
	row := r.db.QueryRow(query, instanceID, stepID, attempt)
	return r.scan(row.Scan)
}

// FindLatest returns the most recent attempt for a step, or domain.ErrNotFound.
func (r *StepExecutionRepository) FindLatest(instanceID int64, stepID string) (*domain.StepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `FROM step_execution
		WHERE instance_id = ` + placeholder(1) + ` AND step_id = ` + placeholder(2) + `
		ORDER BY attempt DESC LIMIT 1`
	row := r.db.QueryRow(query, instanceID, stepID)
	return r.scan(row.Scan)
}

// FindByInstance lists every attempt of an instance in execution order.
func (r *StepExecutionRepository) FindByInstance(instanceID int64) (*[]domain.StepExecution, error) {
	query := `SELECT` + stepExecutionColumns + `FROM step_execution
		WHERE instance_id = ` + placeholder(1) + `
		ORDER BY id ASC`
	rows, err := r.db.Query(query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.StepExecution
	for rows.Next() {
		e, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return &execs, nil
}
