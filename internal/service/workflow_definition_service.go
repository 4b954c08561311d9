package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
)

// WorkflowDefinitionService manages workflow definitions. Definitions cannot
// be edited; a changed workflow is created as a new definition.
type WorkflowDefinitionService struct {
	store repository.Store
	log   *logger.Logger
}

// NewWorkflowDefinitionService creates a new WorkflowDefinitionService.
func NewWorkflowDefinitionService(store repository.Store, log *logger.Logger) *WorkflowDefinitionService {
	return &WorkflowDefinitionService{store: store, log: log}
}

// CreateWorkflowRequest represents a create workflow request
type CreateWorkflowRequest struct {
	CompanyID string
	Name      string
	Module    string
	Steps     []repository.WorkflowStep
	CreatedBy string
}

// CreateWorkflow validates and stores a new definition.
func (s *WorkflowDefinitionService) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*repository.WorkflowDefinition, error) {
	wf := &repository.WorkflowDefinition{
		CompanyID: strings.TrimSpace(req.CompanyID),
		Name:      strings.TrimSpace(req.Name),
		Module:    strings.TrimSpace(req.Module),
		Steps:     req.Steps,
	}
	if req.CreatedBy != "" {
		createdBy := req.CreatedBy
		wf.CreatedBy = &createdBy
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		return tx.CreateWorkflow(ctx, wf)
	}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("company_id", wf.CompanyID).
		Str("workflow_id", wf.ID).
		Str("module", wf.Module).
		Int("steps", len(wf.Steps)).
		Msg("Workflow definition created")

	return wf, nil
}

// GetWorkflow returns a definition or WORKFLOW_NOT_FOUND.
func (s *WorkflowDefinitionService) GetWorkflow(ctx context.Context, companyID, id string) (*repository.WorkflowDefinition, error) {
	wf, err := s.store.GetWorkflow(ctx, companyID, id)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, errors.Newf(errors.ErrCodeWorkflowNotFound, "workflow %s not found", id)
	}
	return wf, err
}

// ListWorkflows returns a company's definitions, optionally for one module.
func (s *WorkflowDefinitionService) ListWorkflows(ctx context.Context, companyID, module string) ([]*repository.WorkflowDefinition, error) {
	if strings.TrimSpace(companyID) == "" {
		return nil, errors.InvalidInput("company_id", "is required")
	}
	return s.store.ListWorkflows(ctx, companyID, strings.TrimSpace(module))
}

// DeleteWorkflow removes a definition no document is moving through.
func (s *WorkflowDefinitionService) DeleteWorkflow(ctx context.Context, companyID, id string) error {
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetWorkflow(ctx, companyID, id); err != nil {
			if errors.HasCode(err, errors.ErrCodeNotFound) {
				return errors.Newf(errors.ErrCodeWorkflowNotFound, "workflow %s not found", id)
			}
			return err
		}
		n, err := tx.CountInFlightDocuments(ctx, companyID, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return errors.Newf(errors.ErrCodePreconditionFailed,
				"workflow %s is in use by %d document(s) in flight", id, n)
		}
		return tx.DeleteWorkflow(ctx, companyID, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("company_id", companyID).Str("workflow_id", id).Msg("Workflow definition deleted")
	return nil
}
