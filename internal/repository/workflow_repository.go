package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-qms-documents/internal/database"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// WorkflowRepository handles workflow_definitions. Definitions are insert-only;
// there is no update path.
type WorkflowRepository struct {
	q database.Querier
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(q database.Querier) *WorkflowRepository {
	return &WorkflowRepository{q: q}
}

// CreateWorkflow inserts a validated definition.
func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, wf *WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow steps")
	}

	query := `
		INSERT INTO workflow_definitions (company_id, name, module, steps, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err = r.q.QueryRow(ctx, query,
		wf.CompanyID,
		wf.Name,
		wf.Module,
		stepsJSON,
		wf.CreatedBy,
	).Scan(&wf.ID, &wf.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow definition")
	}
	return nil
}

// GetWorkflow retrieves a definition by id within a company.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, companyID, id string) (*WorkflowDefinition, error) {
	if !validID(id) {
		return nil, errors.NotFound("workflow", id)
	}
	query := `
		SELECT id, company_id, name, module, steps, created_by, created_at
		FROM workflow_definitions
		WHERE id = $1 AND company_id = $2
	`

	wf, err := r.scanWorkflow(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow", id)
	}
	return wf, err
}

// ListWorkflows returns the company's definitions, optionally for one module.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, companyID, module string) ([]*WorkflowDefinition, error) {
	query := `
		SELECT id, company_id, name, module, steps, created_by, created_at
		FROM workflow_definitions
		WHERE company_id = $1
		  AND ($2::text = '' OR module = $2)
		ORDER BY name ASC, created_at ASC
	`

	rows, err := r.q.Query(ctx, query, companyID, module)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var workflows []*WorkflowDefinition
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// DeleteWorkflow removes a definition. Callers check CountInFlightDocuments
// first; documents that finished a cycle keep their reference, so the foreign
// key also refuses deletion of any workflow a document ever used.
func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, companyID, id string) error {
	if !validID(id) {
		return errors.NotFound("workflow", id)
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1 AND company_id = $2`, id, companyID)
	if database.IsForeignKeyViolation(err) {
		return errors.New(errors.ErrCodeConflict, "workflow is referenced by documents")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete workflow")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("workflow", id)
	}
	return nil
}

// CountInFlightDocuments counts documents pending approval or in revision that
// reference the workflow.
func (r *WorkflowRepository) CountInFlightDocuments(ctx context.Context, companyID, workflowID string) (int, error) {
	if !validID(workflowID) {
		return 0, nil
	}
	query := `
		SELECT COUNT(*)
		FROM documents
		WHERE company_id = $1
		  AND workflow_id = $2
		  AND status IN ('pending_approval', 'revision')
	`

	var n int
	if err := r.q.QueryRow(ctx, query, companyID, workflowID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count in-flight documents")
	}
	return n, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*WorkflowDefinition, error) {
	wf := &WorkflowDefinition{}
	var stepsJSON []byte

	err := row.Scan(
		&wf.ID,
		&wf.CompanyID,
		&wf.Name,
		&wf.Module,
		&stepsJSON,
		&wf.CreatedBy,
		&wf.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow steps")
	}
	return wf, nil
}
