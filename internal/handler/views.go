package handler

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-qms-documents/internal/repository"
	"github.com/pesio-ai/be-qms-documents/internal/service"
)

type workflowView struct {
	ID        string                    `json:"id"`
	CompanyID string                    `json:"company_id"`
	Name      string                    `json:"name"`
	Module    string                    `json:"module"`
	Steps     []repository.WorkflowStep `json:"steps"`
	CreatedBy *string                   `json:"created_by,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

type documentView struct {
	ID               string    `json:"id"`
	CompanyID        string    `json:"company_id"`
	Code             string    `json:"code"`
	Title            string    `json:"title"`
	Type             string    `json:"type"`
	DepartmentID     *string   `json:"department_id,omitempty"`
	WorkflowID       *string   `json:"workflow_id,omitempty"`
	Status           string    `json:"status"`
	CurrentVersionID *string   `json:"current_version_id,omitempty"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type versionView struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	VersionNumber string    `json:"version_number"`
	FileReference *string   `json:"file_reference,omitempty"`
	RevisionNotes string    `json:"revision_notes"`
	Status        string    `json:"status"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

type historyView struct {
	ID          string    `json:"id"`
	TaskID      *string   `json:"task_id,omitempty"`
	Action      string    `json:"action"`
	ActorID     string    `json:"actor_id"`
	ActorRole   string    `json:"actor_role"`
	StepNumber  int       `json:"step_number"`
	Notes       string    `json:"notes"`
	PerformedAt time.Time `json:"performed_at"`
}

type taskView struct {
	ID                 string     `json:"id"`
	CompanyID          string     `json:"company_id"`
	DocumentID         string     `json:"document_id"`
	VersionID          string     `json:"version_id"`
	AssignedRoleID     *string    `json:"assigned_role_id,omitempty"`
	AssignedUserID     *string    `json:"assigned_user_id,omitempty"`
	WorkflowStepNumber int        `json:"workflow_step_number"`
	Title              string     `json:"title"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	ClosedBy           *string    `json:"closed_by,omitempty"`
}

type documentDetailView struct {
	Document documentView  `json:"document"`
	Version  *versionView  `json:"version,omitempty"`
	History  []historyView `json:"history"`
	OpenTask *taskView     `json:"open_task,omitempty"`
}

type decisionView struct {
	DocumentID     string       `json:"document_id"`
	VersionID      string       `json:"version_id,omitempty"`
	DocumentStatus string       `json:"document_status"`
	ClosedTask     *taskView    `json:"closed_task,omitempty"`
	NextTask       *taskView    `json:"next_task,omitempty"`
	Entry          *historyView `json:"entry,omitempty"`
}

type errorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func toWorkflowView(wf *repository.WorkflowDefinition) workflowView {
	return workflowView{
		ID:        wf.ID,
		CompanyID: wf.CompanyID,
		Name:      wf.Name,
		Module:    wf.Module,
		Steps:     wf.Steps,
		CreatedBy: wf.CreatedBy,
		CreatedAt: wf.CreatedAt,
	}
}

func toDocumentView(d *repository.Document) documentView {
	return documentView{
		ID:               d.ID,
		CompanyID:        d.CompanyID,
		Code:             d.Code,
		Title:            d.Title,
		Type:             d.Type,
		DepartmentID:     d.DepartmentID,
		WorkflowID:       d.WorkflowID,
		Status:           string(d.Status),
		CurrentVersionID: d.CurrentVersionID,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func toVersionView(v *repository.DocumentVersion) *versionView {
	if v == nil {
		return nil
	}
	return &versionView{
		ID:            v.ID,
		DocumentID:    v.DocumentID,
		VersionNumber: v.VersionNumber,
		FileReference: v.FileReference,
		RevisionNotes: v.RevisionNotes,
		Status:        string(v.Status),
		CreatedBy:     v.CreatedBy,
		CreatedAt:     v.CreatedAt,
	}
}

func toHistoryView(e *repository.HistoryEntry) *historyView {
	if e == nil {
		return nil
	}
	return &historyView{
		ID:          e.ID,
		TaskID:      e.TaskID,
		Action:      string(e.Action),
		ActorID:     e.ActorID,
		ActorRole:   e.ActorRole,
		StepNumber:  e.StepNumber,
		Notes:       e.Notes,
		PerformedAt: e.PerformedAt,
	}
}

func toHistoryViews(entries []*repository.HistoryEntry) []historyView {
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, *toHistoryView(e))
	}
	return out
}

func toTaskView(t *repository.Task) *taskView {
	if t == nil {
		return nil
	}
	return &taskView{
		ID:                 t.ID,
		CompanyID:          t.CompanyID,
		DocumentID:         t.DocumentID,
		VersionID:          t.VersionID,
		AssignedRoleID:     t.AssignedRoleID,
		AssignedUserID:     t.AssignedUserID,
		WorkflowStepNumber: t.WorkflowStepNumber,
		Title:              t.Title,
		Type:               string(t.Type),
		Status:             string(t.Status),
		CreatedAt:          t.CreatedAt,
		ClosedAt:           t.ClosedAt,
		ClosedBy:           t.ClosedBy,
	}
}

func toTaskViews(tasks []*repository.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, *toTaskView(t))
	}
	return out
}

func toDetailView(d *service.DocumentDetail) documentDetailView {
	return documentDetailView{
		Document: toDocumentView(d.Document),
		Version:  toVersionView(d.Version),
		History:  toHistoryViews(d.History),
		OpenTask: toTaskView(d.OpenTask),
	}
}

func toDecisionView(r *service.DecisionResult) decisionView {
	return decisionView{
		DocumentID:     r.DocumentID,
		VersionID:      r.VersionID,
		DocumentStatus: string(r.DocumentStatus),
		ClosedTask:     toTaskView(r.ClosedTask),
		NextTask:       toTaskView(r.NextTask),
		Entry:          toHistoryView(r.Entry),
	}
}

// toStruct renders a view as a google.protobuf.Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}
