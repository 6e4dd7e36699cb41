package repository

import (
	"database/sql"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

// templateDefinition is the JSON document stored in the definition column.
// Steps and variables live inside the template aggregate so a publish is a
// single-row write.
type templateDefinition struct {
	Steps     []domain.Step     `json:"steps"`
	Variables []domain.Variable `json:"variables,omitempty"`
}

const templateColumns = ` id, name, category, version, active, entry_step_id, definition, created_by, created, modified `

// TemplateRepository persists immutable template versions.
type TemplateRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewTemplateRepository(db *sql.DB, clock core.Clock) *TemplateRepository {
	return &TemplateRepository{db: db, clock: clock}
}

// Save inserts a new template version row. The caller assigns Version;
// rows are never updated afterwards apart from the active flag.
func (r *TemplateRepository) Save(t *domain.WorkflowTemplate) (int64, error) {
	def, err := encodeJSON(templateDefinition{Steps: t.Steps, Variables: t.Variables})
	if err != nil {
		return 0, err
	}

	vals := []interface{}{t.Name, t.Category, t.Version, t.Active, t.EntryStepID, def.String, t.CreatedBy,
		formatDateInDatabase(t.Created), formatDateInDatabase(t.Modified)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_template (
		name, category, version, active, entry_step_id, definition, created_by, created, modified
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

func (r *TemplateRepository) scanOne(row *sql.Row) (*domain.WorkflowTemplate, error) {
	var t domain.WorkflowTemplate
	var def sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Version, &t.Active, &t.EntryStepID, &def, &t.CreatedBy, &t.Created, &t.Modified)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d templateDefinition
	if err := decodeJSON(def, &d); err != nil {
		return nil, err
	}
	t.Steps = d.Steps
	t.Variables = d.Variables
	return &t, nil
}

func (r *TemplateRepository) FindByID(id int64) (*domain.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `FROM workflow_template WHERE id = ` + placeholder(1)
	return r.scanOne(r.db.QueryRow(query, id))
}

// FindLatestByName returns the highest-version row for a template name.
func (r *TemplateRepository) FindLatestByName(name string) (*domain.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `FROM workflow_template
		WHERE name = ` + placeholder(1) + `
		ORDER BY version DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, name))
}

func (r *TemplateRepository) FindAll() (*[]domain.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `FROM workflow_template ORDER BY name, version DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []domain.WorkflowTemplate
	for rows.Next() {
		var t domain.WorkflowTemplate
		var def sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Version, &t.Active, &t.EntryStepID, &def, &t.CreatedBy, &t.Created, &t.Modified); err != nil {
			return nil, err
		}
		var d templateDefinition
		if err := decodeJSON(def, &d); err != nil {
			return nil, err
		}
		t.Steps = d.Steps
		t.Variables = d.Variables
		templates = append(templates, t)
	}
	return &templates, nil
}

// SetActive flips the active flag; this is the only mutable template field.
func (r *TemplateRepository) SetActive(id int64, active bool) error {
	query := `UPDATE workflow_template SET active = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2)
	_, err := r.db.Exec(query, active, id)
	return err
}
