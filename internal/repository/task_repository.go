package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-qms-documents/internal/database"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// TaskRepository handles reads and state changes on tasks. The partial unique
// index tasks_one_open_per_version keeps at most one open task per version.
type TaskRepository struct {
	q database.Querier
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(q database.Querier) *TaskRepository {
	return &TaskRepository{q: q}
}

const taskColumns = `
	id, company_id, document_id, version_id,
	assigned_role_id, assigned_user_id, workflow_step_number,
	title, task_type, status, created_at, closed_at, closed_by
`

// GetTask retrieves a task by id.
func (r *TaskRepository) GetTask(ctx context.Context, companyID, id string) (*Task, error) {
	if !validID(id) {
		return nil, errors.NotFound("task", id)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND company_id = $2`

	task, err := r.scanTask(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get task")
	}
	return task, nil
}

// LockTask reads a task and locks its row until the transaction ends.
func (r *TaskRepository) LockTask(ctx context.Context, companyID, id string) (*Task, error) {
	if !validID(id) {
		return nil, errors.NotFound("task", id)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND company_id = $2 FOR UPDATE`

	task, err := r.scanTask(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock task")
	}
	return task, nil
}

// GetOpenTask returns the open task of a version, or nil when there is none.
func (r *TaskRepository) GetOpenTask(ctx context.Context, companyID, documentID, versionID string) (*Task, error) {
	if !validID(documentID) || !validID(versionID) {
		return nil, nil
	}
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE company_id = $1 AND document_id = $2 AND version_id = $3 AND status = 'open'
	`

	task, err := r.scanTask(r.q.QueryRow(ctx, query, companyID, documentID, versionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get open task")
	}
	return task, nil
}

// ListOpenTasks returns open tasks assigned to any of the filter roles or to
// the filter user, newest first.
func (r *TaskRepository) ListOpenTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	roles := filter.RoleIDs
	if roles == nil {
		roles = []string{}
	}
	unfiltered := filter.UserID == "" && len(roles) == 0

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE company_id = $1
		  AND status = 'open'
		  AND ($5::boolean OR assigned_role_id = ANY($2::text[]) OR ($3::text <> '' AND assigned_user_id = $3))
		ORDER BY created_at DESC, id ASC
		LIMIT $4
	`

	rows, err := r.q.Query(ctx, query, filter.CompanyID, roles, filter.UserID, limit, unfiltered)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list open tasks")
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CreateTask inserts an open task. A second open task for the same version is
// rejected by the partial unique index and reported as a conflict.
func (r *TaskRepository) CreateTask(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO tasks
		    (company_id, document_id, version_id,
		     assigned_role_id, assigned_user_id, workflow_step_number,
		     title, task_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open')
		RETURNING id, status, created_at
	`

	err := r.q.QueryRow(ctx, query,
		task.CompanyID,
		task.DocumentID,
		task.VersionID,
		task.AssignedRoleID,
		task.AssignedUserID,
		task.WorkflowStepNumber,
		task.Title,
		task.Type,
	).Scan(&task.ID, &task.Status, &task.CreatedAt)
	if database.IsUniqueViolation(err, "tasks_one_open_per_version") {
		return errors.New(errors.ErrCodeConflict, "version already has an open task")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create task")
	}
	return nil
}

// CloseTask closes an open task. Only one caller can win: the update is
// conditional on status = 'open', and a task that is already closed yields
// TASK_ALREADY_CLOSED.
func (r *TaskRepository) CloseTask(ctx context.Context, companyID, id, closedBy string) (*Task, error) {
	if !validID(id) {
		return nil, errors.NotFound("task", id)
	}
	query := `
		UPDATE tasks
		SET status    = 'closed',
		    closed_at = NOW(),
		    closed_by = $3
		WHERE id = $1 AND company_id = $2 AND status = 'open'
		RETURNING ` + taskColumns

	task, err := r.scanTask(r.q.QueryRow(ctx, query, id, companyID, closedBy))
	if err == nil {
		return task, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to close task")
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1 AND company_id = $2)`,
		id, companyID).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check task")
	}
	if !exists {
		return nil, errors.NotFound("task", id)
	}
	return nil, errors.Newf(errors.ErrCodeTaskAlreadyClosed, "task %s is already closed", id)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type taskScanner interface {
	Scan(dest ...any) error
}

func (r *TaskRepository) scanTask(row taskScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.ID,
		&t.CompanyID,
		&t.DocumentID,
		&t.VersionID,
		&t.AssignedRoleID,
		&t.AssignedUserID,
		&t.WorkflowStepNumber,
		&t.Title,
		&t.Type,
		&t.Status,
		&t.CreatedAt,
		&t.ClosedAt,
		&t.ClosedBy,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
