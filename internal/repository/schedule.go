package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

const scheduleColumns = ` id, template_id, cron_expr, timezone, enabled, next_run, last_run,
		fire_count, error_count, version, created, modified `

// ScheduleRepository persists cron schedules. NextRun lives in the row so the
// scheduler survives process restarts without in-memory timers.
type ScheduleRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewScheduleRepository(db *sql.DB, clock core.Clock) *ScheduleRepository {
	return &ScheduleRepository{db: db, clock: clock}
}

func (r *ScheduleRepository) scan(scan func(dest ...any) error) (*domain.WorkflowSchedule, error) {
	var s domain.WorkflowSchedule
	err := scan(
		&s.ID, &s.TemplateID, &s.CronExpr, &s.Timezone, &s.Enabled, &s.NextRun, &s.LastRun,
		&s.FireCount, &s.ErrorCount, &s.Version, &s.Created, &s.Modified,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ScheduleRepository) Save(s *domain.WorkflowSchedule) (int64, error) {
	vals := []interface{}{
		s.TemplateID, s.CronExpr, s.Timezone, s.Enabled,
		formatDateInDatabaseNull(s.NextRun), formatDateInDatabaseNull(s.LastRun),
		s.FireCount, s.ErrorCount, s.Version,
		formatDateInDatabase(s.Created), formatDateInDatabase(s.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_schedule (
		template_id, cron_expr, timezone, enabled, next_run, last_run,
		fire_count, error_count, version, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	var err error
	if supportsReturning() {
		err = r.db.QueryRow(base+" RETURNING id", vals...).Scan(&s.ID)
		return s.ID, err
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// Update writes run bookkeeping behind an optimistic version check so two
// engine processes cannot both fire the same due tick.
func (r *ScheduleRepository) Update(s *domain.WorkflowSchedule) error {
	query := `
		UPDATE workflow_schedule
		SET enabled = ` + placeholder(1) + `,
		    next_run = ` + placeholder(2) + `,
		    last_run = ` + placeholder(3) + `,
		    fire_count = ` + placeholder(4) + `,
		    error_count = ` + placeholder(5) + `,
		    version = version + 1,
		    modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(6) + ` AND version = ` + placeholder(7) + `
	`
	res, err := r.db.Exec(query, s.Enabled,
		formatDateInDatabaseNull(s.NextRun), formatDateInDatabaseNull(s.LastRun),
		s.FireCount, s.ErrorCount, s.ID, s.Version)
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
	s.Version++
	return nil
}

func (r *ScheduleRepository) FindByID(id int64) (*domain.WorkflowSchedule, error) {
	query := `SELECT` + scheduleColumns + `FROM workflow_schedule WHERE id = ` + placeholder(1)
	row := r.db.QueryRow(query, id)
	return r.scan(row.Scan)
}

// FindDue returns enabled schedules whose next run has passed.
func (r *ScheduleRepository) FindDue(limit int) (*[]domain.WorkflowSchedule, error) {
	query := `SELECT` + scheduleColumns + `FROM workflow_schedule
		WHERE enabled = ` + boolLiteral(true) + `
		  AND ` + dateBeforeNow("next_run", r.clock) + `
		ORDER BY next_run ASC
		LIMIT ` + placeholder(1)
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.WorkflowSchedule
	for rows.Next() {
		s, err := r.scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return &schedules, nil
}
