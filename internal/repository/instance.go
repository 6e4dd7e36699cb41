package repository

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

const instanceColumns = ` id, external_id, template_id, template_name, template_version, status,
		current_step_id, variables, completed_steps, failed_steps, version,
		created, modified, next_activation, started, paused, completed, cancelled,
		duration_ms, executor_id, created_by `

// InstanceOverviewRow holds grouped counts by template and status.
type InstanceOverviewRow struct {
	TemplateName string
	Status       string
	Count        int
}

// TemplateStatsRow aggregates terminal outcomes per template.
type TemplateStatsRow struct {
	TemplateID    int64
	TemplateName  string
	CompletedRuns int64
	FailedRuns    int64
	RolledBack    int64
	AvgDurationMs sql.NullFloat64
}

// InstanceRepository persists workflow instances. All mutations after insert
// go through Update, which enforces the per-aggregate optimistic version
// check that serializes step execution within one instance.
type InstanceRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewInstanceRepository(db *sql.DB, clock core.Clock) *InstanceRepository {
	return &InstanceRepository{db: db, clock: clock}
}

func (r *InstanceRepository) scan(scan func(dest ...any) error) (*domain.WorkflowInstance, error) {
	var w domain.WorkflowInstance
	var vars, completed, failed sql.NullString
	err := scan(
		&w.ID, &w.ExternalID, &w.TemplateID, &w.TemplateName, &w.TemplateVersion, &w.Status,
		&w.CurrentStepID, &vars, &completed, &failed, &w.Version,
		&w.Created, &w.Modified, &w.NextActivation, &w.Started, &w.Paused, &w.Completed, &w.Cancelled,
		&w.DurationMs, &w.ExecutorID, &w.CreatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(vars, &w.Variables); err != nil {
		return nil, err
	}
	if err := decodeJSON(completed, &w.CompletedSteps); err != nil {
		return nil, err
	}
	if err := decodeJSON(failed, &w.FailedSteps); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *InstanceRepository) FindByID(id int64) (*domain.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `FROM workflow_instance WHERE id = ` + placeholder(1)
	row := r.db.QueryRow(query, id)
	return r.scan(row.Scan)
}

func (r *InstanceRepository) FindByExternalID(externalID string) (*domain.WorkflowInstance, error) {
	query := `SELECT` + instanceColumns + `FROM workflow_instance WHERE external_id = ` + placeholder(1)
	row := r.db.QueryRow(query, externalID)
	return r.scan(row.Scan)
}

func (r *InstanceRepository) Save(w *domain.WorkflowInstance) (int64, error) {
	vars, err := encodeJSON(w.Variables)
	if err != nil {
		return 0, err
	}
	completed, err := encodeJSON(w.CompletedSteps)
	if err != nil {
		return 0, err
	}
	failed, err := encodeJSON(w.FailedSteps)
	if err != nil {
		return 0, err
	}

	vals := []interface{}{
		w.ExternalID, w.TemplateID, w.TemplateName, w.TemplateVersion, string(w.Status),
		w.CurrentStepID, vars, completed, failed, w.Version,
		formatDateInDatabase(w.Created), formatDateInDatabase(w.Modified),
		formatDateInDatabaseNull(w.NextActivation), formatDateInDatabaseNull(w.Started),
		formatDateInDatabaseNull(w.Paused), formatDateInDatabaseNull(w.Completed),
		formatDateInDatabaseNull(w.Cancelled), w.DurationMs, w.ExecutorID, w.CreatedBy,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_instance (
		external_id, template_id, template_name, template_version, status,
		current_step_id, variables, completed_steps, failed_steps, version,
		created, modified, next_activation, started, paused, completed, cancelled,
		duration_ms, executor_id, created_by
	) VALUES (` + strings.Join(pps, ", ") + `)`

	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&w.ID)
		return w.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	w.ID = id
	return id, nil
}

// Update writes the full mutable state of the instance behind an optimistic
// version check. On success the in-memory Version is bumped to match the row.
func (r *InstanceRepository) Update(w *domain.WorkflowInstance) error {
	vars, err := encodeJSON(w.Variables)
	if err != nil {
		return err
	}
	completed, err := encodeJSON(w.CompletedSteps)
	if err != nil {
		return err
	}
	failed, err := encodeJSON(w.FailedSteps)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instance
		SET status = ` + placeholder(1) + `,
		    current_step_id = ` + placeholder(2) + `,
		    variables = ` + placeholder(3) + `,
		    completed_steps = ` + placeholder(4) + `,
		    failed_steps = ` + placeholder(5) + `,
		    next_activation = ` + placeholder(6) + `,
		    started = ` + placeholder(7) + `,
		    paused = ` + placeholder(8) + `,
		    completed = ` + placeholder(9) + `,
		    cancelled = ` + placeholder(10) + `,
		    duration_ms = ` + placeholder(11) + `,
		    executor_id = ` + placeholder(12) + `,
		    version = version + 1,
		    modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(13) + ` AND version = ` + placeholder(14) + `
	`
	res, err := r.db.Exec(query,
		string(w.Status), w.CurrentStepID, vars, completed, failed,
		formatDateInDatabaseNull(w.NextActivation), formatDateInDatabaseNull(w.Started),
		formatDateInDatabaseNull(w.Paused), formatDateInDatabaseNull(w.Completed),
		formatDateInDatabaseNull(w.Cancelled), w.DurationMs, w.ExecutorID,
		w.ID, w.Version,
	)
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
	w.Version++
	return nil
}

// FindDue returns unclaimed instances whose next activation has passed.
func (r *InstanceRepository) FindDue(size int) (*[]domain.WorkflowInstance, error) {
	query := `
		SELECT` + instanceColumns + `
		FROM workflow_instance
		WHERE ` + dateBeforeNow("next_activation", r.clock) + `
		  AND status IN ('pending', 'running')
		  AND executor_id IS NULL
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		w, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *w)
	}
	return &instances, nil
}

// ClaimForExecution stamps the executor id behind the optimistic version
// check. A false return means another executor got there first.
func (r *InstanceRepository) ClaimForExecution(id int64, executorID int64, version int64) bool {
	query := `
		UPDATE workflow_instance
		SET executor_id = ` + placeholder(1) + `, version = version + 1, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND version = ` + placeholder(3) + `
		  AND status IN ('pending', 'running') AND executor_id IS NULL
	`
	res, err := r.db.Exec(query, executorID, id, version)
	if err != nil {
		slog.Error("Failed to claim instance for execution", "error", err, "id", id, "executor_id", executorID)
		return false
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return rows == 1
}

// ClearExecutor releases the claim so another executor may pick the instance up.
func (r *InstanceRepository) ClearExecutor(id int64) error {
	query := `
		UPDATE workflow_instance
		SET executor_id = NULL, version = version + 1, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// FindStuck returns claimed, non-terminal instances that have not been touched
// for the given number of minutes; their executor likely died mid-run.
func (r *InstanceRepository) FindStuck(minutes string, limit int) (*[]domain.WorkflowInstance, error) {
	cutoff := "-" + minutes + " minutes"
	var query string
	if supportsReturning() {
		query = `
			SELECT` + instanceColumns + `
			FROM workflow_instance
			WHERE executor_id IS NOT NULL
			  AND status IN ('pending', 'running')
			  AND modified < ` + nowFunc(r.clock) + `::timestamp + INTERVAL '` + cutoff + `'
			LIMIT ` + placeholder(1)
	} else {
		threshold := r.clock.Now().UTC().Add(-time.Duration(atoiOr(minutes, 5)) * time.Minute)
		query = `
			SELECT` + instanceColumns + `
			FROM workflow_instance
			WHERE executor_id IS NOT NULL
			  AND status IN ('pending', 'running')
			  AND modified < '` + formatDateInDatabase(threshold) + `'
			LIMIT ` + placeholder(1)
	}
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		w, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *w)
	}
	return &instances, nil
}

// Search filters instances by the optional request fields.
func (r *InstanceRepository) Search(req models.SearchInstancesRequest) (*[]domain.WorkflowInstance, error) {
	var where []string
	var args []interface{}
	idx := 1
	if req.TemplateID != 0 {
		where = append(where, "template_id = "+placeholder(idx))
		args = append(args, req.TemplateID)
		idx++
	}
	if req.Status != "" {
		where = append(where, "status = "+placeholder(idx))
		args = append(args, req.Status)
		idx++
	}
	if req.ExternalID != "" {
		where = append(where, "external_id = "+placeholder(idx))
		args = append(args, req.ExternalID)
		idx++
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT` + instanceColumns + `FROM workflow_instance`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT " + placeholder(idx)
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.WorkflowInstance
	for rows.Next() {
		w, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *w)
	}
	return &instances, nil
}

// GetInstanceOverview returns grouped counts for dashboards.
func (r *InstanceRepository) GetInstanceOverview() ([]InstanceOverviewRow, error) {
	query := `
		SELECT template_name, status, COUNT(*)
		FROM workflow_instance
		GROUP BY template_name, status
		ORDER BY template_name, status
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstanceOverviewRow
	for rows.Next() {
		var row InstanceOverviewRow
		if err := rows.Scan(&row.TemplateName, &row.Status, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// GetTemplateStats aggregates terminal outcomes and average duration per template.
func (r *InstanceRepository) GetTemplateStats() ([]TemplateStatsRow, error) {
	query := `
		SELECT template_id, template_name,
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'rolled_back' THEN 1 ELSE 0 END),
		       AVG(duration_ms)
		FROM workflow_instance
		WHERE status IN ('completed', 'failed', 'rolled_back')
		GROUP BY template_id, template_name
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TemplateStatsRow
	for rows.Next() {
		var row TemplateStatsRow
		if err := rows.Scan(&row.TemplateID, &row.TemplateName, &row.CompletedRuns, &row.FailedRuns, &row.RolledBack, &row.AvgDurationMs); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
