package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
)

// TaskService is the read side of the task ledger.
type TaskService struct {
	store repository.Reader
}

// NewTaskService creates a new TaskService.
func NewTaskService(store repository.Reader) *TaskService {
	return &TaskService{store: store}
}

// GetTask returns one task.
func (s *TaskService) GetTask(ctx context.Context, companyID, id string) (*repository.Task, error) {
	return s.store.GetTask(ctx, companyID, id)
}

// ListInbox returns the open tasks a user can act on: tasks assigned to any of
// roleIDs and revision tasks assigned to the user. Newest first.
func (s *TaskService) ListInbox(ctx context.Context, companyID, userID string, roleIDs []string) ([]*repository.Task, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, errors.InvalidInput("company_id", "is required")
	}
	if strings.TrimSpace(userID) == "" && len(roleIDs) == 0 {
		return nil, errors.InvalidInput("user_id", "user or roles are required")
	}
	return s.store.ListOpenTasks(ctx, repository.TaskFilter{
		CompanyID: companyID,
		UserID:    userID,
		RoleIDs:   roleIDs,
	})
}

// ListOpen returns every open task of a company.
func (s *TaskService) ListOpen(ctx context.Context, companyID string, limit int) ([]*repository.Task, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, errors.InvalidInput("company_id", "is required")
	}
	return s.store.ListOpenTasks(ctx, repository.TaskFilter{CompanyID: companyID, Limit: limit})
}
