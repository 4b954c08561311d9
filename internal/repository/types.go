package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// ── Lifecycle enums ──────────────────────────────────────────────────────────

// DocumentStatus is shared by documents and their versions.
type DocumentStatus string

const (
	StatusDraft           DocumentStatus = "draft"
	StatusPendingApproval DocumentStatus = "pending_approval"
	StatusPublished       DocumentStatus = "published"
	StatusRevision        DocumentStatus = "revision"
	StatusCanceled        DocumentStatus = "canceled"
)

// InFlight reports whether a document is moving through a workflow.
func (s DocumentStatus) InFlight() bool {
	return s == StatusPendingApproval || s == StatusRevision
}

// Terminal reports whether no engine operation can move the document further.
func (s DocumentStatus) Terminal() bool {
	return s == StatusPublished || s == StatusCanceled
}

// TaskStatus is open until a decision is recorded against the task.
type TaskStatus string

const (
	TaskOpen   TaskStatus = "open"
	TaskClosed TaskStatus = "closed"
)

// TaskType distinguishes step approvals from revision requests.
type TaskType string

const (
	TaskTypeApproval TaskType = "document_approval"
	TaskTypeRevision TaskType = "revision_request"
)

// HistoryAction is the decision recorded in the approval history.
type HistoryAction string

const (
	ActionApproved HistoryAction = "approved"
	ActionRejected HistoryAction = "rejected"
)

// DocumentTypes are the document kinds a QMS tracks.
var DocumentTypes = map[string]bool{
	"procedure":   true,
	"instruction": true,
	"form":        true,
	"record":      true,
	"other":       true,
}

// ── Workflow definitions ─────────────────────────────────────────────────────

// WorkflowStep is one entry in a definition's steps JSONB array.
type WorkflowStep struct {
	StepNumber   int    `json:"step_number" yaml:"step_number"`
	StepName     string `json:"step_name" yaml:"step_name"`
	RequiredRole string `json:"required_role" yaml:"required_role"`
}

// WorkflowDefinition is a named, ordered list of approval steps for a module.
type WorkflowDefinition struct {
	ID        string
	CompanyID string
	Name      string
	Module    string
	Steps     []WorkflowStep
	CreatedBy *string
	CreatedAt time.Time
}

// Validate checks that steps are non-empty, numbered 1..N in order and that
// each step names a role.
func (w *WorkflowDefinition) Validate() error {
	if strings.TrimSpace(w.CompanyID) == "" {
		return errors.InvalidInput("company_id", "company is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return errors.InvalidInput("name", "workflow name is required")
	}
	if strings.TrimSpace(w.Module) == "" {
		return errors.InvalidInput("module", "module is required")
	}
	if len(w.Steps) == 0 {
		return errors.New(errors.ErrCodeInvalidWorkflow, "workflow must have at least one step")
	}
	for i, step := range w.Steps {
		if step.StepNumber != i+1 {
			return errors.Newf(errors.ErrCodeInvalidWorkflow,
				"step numbers must be contiguous from 1: position %d has step %d", i+1, step.StepNumber)
		}
		if strings.TrimSpace(step.RequiredRole) == "" {
			return errors.Newf(errors.ErrCodeInvalidWorkflow, "step %d has no required role", step.StepNumber)
		}
	}
	return nil
}

// Step returns the step with the given 1-based number.
func (w *WorkflowDefinition) Step(number int) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.StepNumber == number {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// ── Documents ────────────────────────────────────────────────────────────────

// Document is the artifact under approval.
type Document struct {
	ID               string
	CompanyID        string
	Code             string
	Title            string
	Type             string
	DepartmentID     *string
	WorkflowID       *string
	Status           DocumentStatus
	CurrentVersionID *string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentVersion is the revision of a document that goes through review.
type DocumentVersion struct {
	ID            string
	CompanyID     string
	DocumentID    string
	VersionNumber string
	FileReference *string
	RevisionNotes string
	Status        DocumentStatus
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasArtifact reports whether a file is attached to the version.
func (v *DocumentVersion) HasArtifact() bool {
	return v.FileReference != nil && strings.TrimSpace(*v.FileReference) != ""
}

// HistoryEntry is one immutable record in a version's approval history.
// PerformedAt is assigned by the store when the entry is appended.
type HistoryEntry struct {
	Seq         int64
	ID          string
	CompanyID   string
	DocumentID  string
	VersionID   string
	TaskID      *string
	Action      HistoryAction
	ActorID     string
	ActorRole   string
	StepNumber  int
	Notes       string
	PerformedAt time.Time
}

// ── Tasks ────────────────────────────────────────────────────────────────────

// Task is a unit of pending work. Step tasks are assigned to a role; revision
// tasks (step 0) are assigned to the version author.
type Task struct {
	ID                 string
	CompanyID          string
	DocumentID         string
	VersionID          string
	AssignedRoleID     *string
	AssignedUserID     *string
	WorkflowStepNumber int
	Title              string
	Type               TaskType
	Status             TaskStatus
	CreatedAt          time.Time
	ClosedAt           *time.Time
	ClosedBy           *string
}

// IsRevision reports whether the task asks the author to resubmit.
func (t *Task) IsRevision() bool {
	return t.WorkflowStepNumber == 0
}

// NewStepTask builds an open approval task for a workflow step.
func NewStepTask(doc *Document, versionID string, step WorkflowStep) *Task {
	role := step.RequiredRole
	return &Task{
		CompanyID:          doc.CompanyID,
		DocumentID:         doc.ID,
		VersionID:          versionID,
		AssignedRoleID:     &role,
		WorkflowStepNumber: step.StepNumber,
		Title:              fmt.Sprintf("Approval pending: %s (step %d)", doc.Code, step.StepNumber),
		Type:               TaskTypeApproval,
		Status:             TaskOpen,
	}
}

// NewRevisionTask builds an open revision task for the version author.
func NewRevisionTask(doc *Document, version *DocumentVersion) *Task {
	author := version.CreatedBy
	return &Task{
		CompanyID:          doc.CompanyID,
		DocumentID:         doc.ID,
		VersionID:          version.ID,
		AssignedUserID:     &author,
		WorkflowStepNumber: 0,
		Title:              fmt.Sprintf("Revision required: %s", doc.Code),
		Type:               TaskTypeRevision,
		Status:             TaskOpen,
	}
}

// ── Filters ──────────────────────────────────────────────────────────────────

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	CompanyID string
	Status    *DocumentStatus
	Limit     int
	Offset    int
}

// TaskFilter narrows ListOpenTasks. With neither UserID nor RoleIDs set every
// open task of the company is returned.
type TaskFilter struct {
	CompanyID string
	UserID    string
	RoleIDs   []string
	Limit     int
}
