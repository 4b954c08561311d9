package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-qms-documents/internal/clock"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
	"github.com/pesio-ai/be-qms-documents/internal/tracing"
)

// WorkflowEngine drives documents through their approval workflow. It is the
// only component that opens or closes tasks and changes document status.
type WorkflowEngine struct {
	store     repository.Store
	gate      AuthorizationGate
	events    EventPublisher
	adminRole string
	log       *logger.Logger
	decisions *tracing.Counter
}

// NewWorkflowEngine creates a new WorkflowEngine. events may be nil.
func NewWorkflowEngine(
	store repository.Store,
	gate AuthorizationGate,
	events EventPublisher,
	adminRole string,
	log *logger.Logger,
) *WorkflowEngine {
	if events == nil {
		events = nopPublisher{}
	}
	return &WorkflowEngine{
		store:     store,
		gate:      gate,
		events:    events,
		adminRole: adminRole,
		log:       log.With("workflow_engine"),
		decisions: tracing.NewCounter("qms.workflow.decisions", "Workflow engine operations by action and outcome"),
	}
}

// SubmitRequest starts the approval cycle of a draft document.
type SubmitRequest struct {
	CompanyID  string
	DocumentID string
	VersionID  string
	WorkflowID string
	AuthorID   string
}

// DecisionRequest approves or rejects the step task TaskID.
type DecisionRequest struct {
	CompanyID string
	TaskID    string
	ActorID   string
	// ActorRole, when set, must name the role the task is assigned to. The
	// history always records the task's role.
	ActorRole string
	Notes     string
}

// ResubmitRequest sends a document in revision back to step 1.
type ResubmitRequest struct {
	CompanyID  string
	DocumentID string
	VersionID  string
	AuthorID   string
}

// CancelRequest moves a document to the canceled terminal state.
type CancelRequest struct {
	CompanyID  string
	DocumentID string
	ActorID    string
	Reason     string
}

// DecisionResult describes the state reached by an engine operation.
type DecisionResult struct {
	DocumentID     string
	VersionID      string
	DocumentStatus repository.DocumentStatus
	// ClosedTask is the task the operation closed, if any.
	ClosedTask *repository.Task
	// NextTask is the task the operation opened, if any.
	NextTask *repository.Task
	// Entry is the history entry appended by Approve or Reject.
	Entry *repository.HistoryEntry
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit moves a draft document into pending_approval and opens the task for
// step 1 of the chosen workflow.
func (e *WorkflowEngine) Submit(ctx context.Context, req SubmitRequest) (res *DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.submit", map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
		"workflow_id": req.WorkflowID,
	})
	defer func() {
		span.End(err)
		e.count(ctx, "submit", err)
	}()

	if err := requireFields(map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
		"version_id":  req.VersionID,
		"workflow_id": req.WorkflowID,
		"author_id":   req.AuthorID,
	}); err != nil {
		return nil, err
	}

	var doc *repository.Document
	res = &DecisionResult{DocumentID: req.DocumentID, VersionID: req.VersionID}

	err = e.store.InTransaction(ctx, func(tx repository.Tx) error {
		d, version, err := lockDocumentVersion(ctx, tx, req.CompanyID, req.DocumentID, req.VersionID)
		if err != nil {
			return err
		}
		if d.Status != repository.StatusDraft {
			return statusPrecondition(d, "submit")
		}
		if version.CreatedBy != req.AuthorID {
			return errors.New(errors.ErrCodeUnauthorized, "only the version author can submit the document")
		}

		wf, err := tx.GetWorkflow(ctx, req.CompanyID, req.WorkflowID)
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return errors.Newf(errors.ErrCodeInvalidWorkflow, "workflow %s does not exist", req.WorkflowID)
		}
		if err != nil {
			return err
		}
		if len(wf.Steps) == 0 {
			return errors.Newf(errors.ErrCodeInvalidWorkflow, "workflow %s has no steps", wf.ID)
		}
		if !version.HasArtifact() {
			return errors.New(errors.ErrCodeMissingArtifact, "a file must be attached before submitting")
		}

		if err := tx.SetDocumentWorkflow(ctx, req.CompanyID, d.ID, wf.ID); err != nil {
			return err
		}
		task, err := enterFirstStep(ctx, tx, d, version, wf)
		if err != nil {
			return err
		}
		doc = d
		res.NextTask = task
		res.DocumentStatus = repository.StatusPendingApproval
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("company_id", req.CompanyID).
		Str("document_id", doc.ID).
		Str("workflow_id", req.WorkflowID).
		Str("task_id", res.NextTask.ID).
		Msg("Document submitted for approval")

	e.publishOpened(ctx, req.AuthorID, res.NextTask)
	return res, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve records an approval against an open step task and advances the
// document to the next step, or publishes it after the last step.
func (e *WorkflowEngine) Approve(ctx context.Context, req DecisionRequest) (res *DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.approve", map[string]string{
		"company_id": req.CompanyID,
		"task_id":    req.TaskID,
	})
	defer func() {
		span.End(err)
		e.count(ctx, "approve", err)
	}()

	task, err := e.authorizeDecision(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttribute("document_id", task.DocumentID)

	res, err = e.decide(ctx, req, task, repository.ActionApproved)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("company_id", req.CompanyID).
		Str("document_id", res.DocumentID).
		Str("task_id", req.TaskID).
		Int("step", res.Entry.StepNumber).
		Str("actor_id", req.ActorID).
		Str("status", string(res.DocumentStatus)).
		Msg("Workflow step approved")

	e.publishClosed(ctx, req.ActorID, res.ClosedTask, string(repository.ActionApproved))
	if res.NextTask != nil {
		e.publishOpened(ctx, req.ActorID, res.NextTask)
	} else {
		e.events.Publish(ctx, Event{
			Type:       EventDocumentPublished,
			CompanyID:  req.CompanyID,
			ActorID:    req.ActorID,
			DocumentID: res.DocumentID,
			VersionID:  res.VersionID,
			OccurredAt: clock.Now(),
		})
	}
	return res, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject records a rejection against an open step task and hands the document
// back to the version author with a single revision task.
func (e *WorkflowEngine) Reject(ctx context.Context, req DecisionRequest) (res *DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.reject", map[string]string{
		"company_id": req.CompanyID,
		"task_id":    req.TaskID,
	})
	defer func() {
		span.End(err)
		e.count(ctx, "reject", err)
	}()

	req.Notes = strings.TrimSpace(req.Notes)
	if req.Notes == "" {
		return nil, errors.New(errors.ErrCodeMissingRejectionReason, "a rejection reason is required")
	}

	task, err := e.authorizeDecision(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttribute("document_id", task.DocumentID)

	res, err = e.decide(ctx, req, task, repository.ActionRejected)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("company_id", req.CompanyID).
		Str("document_id", res.DocumentID).
		Str("task_id", req.TaskID).
		Int("step", res.Entry.StepNumber).
		Str("actor_id", req.ActorID).
		Msg("Workflow step rejected")

	e.publishClosed(ctx, req.ActorID, res.ClosedTask, string(repository.ActionRejected))
	e.events.Publish(ctx, Event{
		Type:       EventDocumentRevisionRequested,
		CompanyID:  req.CompanyID,
		ActorID:    req.ActorID,
		DocumentID: res.DocumentID,
		VersionID:  res.VersionID,
		TaskID:     res.NextTask.ID,
		StepNumber: res.Entry.StepNumber,
		Recipients: recipients(res.NextTask),
		OccurredAt: clock.Now(),
		Payload:    map[string]any{"reason": req.Notes},
	})
	e.publishOpened(ctx, req.ActorID, res.NextTask)
	return res, nil
}

// authorizeDecision loads the task outside any transaction and asks the gate
// whether the actor holds the task's role. The task state is checked again
// under lock by decide.
func (e *WorkflowEngine) authorizeDecision(ctx context.Context, req DecisionRequest) (*repository.Task, error) {
	if err := requireFields(map[string]string{
		"company_id": req.CompanyID,
		"task_id":    req.TaskID,
		"actor_id":   req.ActorID,
	}); err != nil {
		return nil, err
	}

	task, err := e.store.GetTask(ctx, req.CompanyID, req.TaskID)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.GetDocument(ctx, req.CompanyID, task.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := checkDecidable(doc, task); err != nil {
		return nil, err
	}
	if role := strings.TrimSpace(req.ActorRole); role != "" && role != *task.AssignedRoleID {
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"actor role %s does not match role %s assigned to task %s", role, *task.AssignedRoleID, task.ID)
	}

	allowed, err := e.gate.HasRole(ctx, req.ActorID, *task.AssignedRoleID, req.CompanyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "authorization check failed")
	}
	if !allowed {
		e.log.Warn().
			Str("company_id", req.CompanyID).
			Str("task_id", task.ID).
			Str("actor_id", req.ActorID).
			Str("required_role", *task.AssignedRoleID).
			Msg("Decision refused by authorization gate")
		return nil, errors.Newf(errors.ErrCodeUnauthorized,
			"actor %s does not hold role %s", req.ActorID, *task.AssignedRoleID)
	}
	return task, nil
}

// decide performs the close-record-advance sequence of a decision as one
// transaction. Rows are locked document, version, task, the same order every
// other engine operation uses. A concurrent decision on the same task
// serializes on the document lock and fails with TASK_ALREADY_CLOSED.
func (e *WorkflowEngine) decide(
	ctx context.Context,
	req DecisionRequest,
	authorized *repository.Task,
	action repository.HistoryAction,
) (*DecisionResult, error) {
	actorRole := *authorized.AssignedRoleID
	res := &DecisionResult{DocumentID: authorized.DocumentID, VersionID: authorized.VersionID}

	err := e.store.InTransaction(ctx, func(tx repository.Tx) error {
		doc, version, err := lockDocumentVersion(ctx, tx, req.CompanyID, authorized.DocumentID, authorized.VersionID)
		if err != nil {
			return err
		}
		task, err := tx.LockTask(ctx, req.CompanyID, req.TaskID)
		if err != nil {
			return err
		}
		if task.DocumentID != doc.ID || task.VersionID != version.ID {
			return errors.Newf(errors.ErrCodeConflict, "task %s moved to another document version", task.ID)
		}
		if err := checkDecidable(doc, task); err != nil {
			return err
		}

		var wf *repository.WorkflowDefinition
		if action == repository.ActionApproved {
			if wf, err = workflowInFlight(ctx, tx, doc); err != nil {
				return err
			}
		}

		closed, err := tx.CloseTask(ctx, req.CompanyID, task.ID, req.ActorID)
		if err != nil {
			return err
		}
		res.ClosedTask = closed

		entry := &repository.HistoryEntry{
			CompanyID:  req.CompanyID,
			DocumentID: doc.ID,
			VersionID:  version.ID,
			TaskID:     &task.ID,
			Action:     action,
			ActorID:    req.ActorID,
			ActorRole:  actorRole,
			StepNumber: task.WorkflowStepNumber,
			Notes:      req.Notes,
		}
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return err
		}
		res.Entry = entry

		if action == repository.ActionRejected {
			if err := setStatus(ctx, tx, doc, version, repository.StatusRevision); err != nil {
				return err
			}
			revision := repository.NewRevisionTask(doc, version)
			if err := tx.CreateTask(ctx, revision); err != nil {
				return err
			}
			res.NextTask = revision
			res.DocumentStatus = repository.StatusRevision
			return nil
		}

		next, ok := wf.Step(task.WorkflowStepNumber + 1)
		if !ok {
			if err := setStatus(ctx, tx, doc, version, repository.StatusPublished); err != nil {
				return err
			}
			res.DocumentStatus = repository.StatusPublished
			return nil
		}
		nextTask := repository.NewStepTask(doc, version.ID, next)
		if err := tx.CreateTask(ctx, nextTask); err != nil {
			return err
		}
		res.NextTask = nextTask
		res.DocumentStatus = repository.StatusPendingApproval
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// Resubmit closes the author's revision task and re-enters the workflow at
// step 1. The approval history of earlier cycles is kept.
func (e *WorkflowEngine) Resubmit(ctx context.Context, req ResubmitRequest) (res *DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.resubmit", map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
	})
	defer func() {
		span.End(err)
		e.count(ctx, "resubmit", err)
	}()

	if err := requireFields(map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
		"version_id":  req.VersionID,
		"author_id":   req.AuthorID,
	}); err != nil {
		return nil, err
	}

	res = &DecisionResult{DocumentID: req.DocumentID, VersionID: req.VersionID}
	err = e.store.InTransaction(ctx, func(tx repository.Tx) error {
		doc, version, err := lockDocumentVersion(ctx, tx, req.CompanyID, req.DocumentID, req.VersionID)
		if err != nil {
			return err
		}
		if doc.Status != repository.StatusRevision {
			return statusPrecondition(doc, "resubmit")
		}

		open, err := tx.GetOpenTask(ctx, req.CompanyID, doc.ID, version.ID)
		if err != nil {
			return err
		}
		if open == nil || !open.IsRevision() {
			return errors.New(errors.ErrCodePreconditionFailed, "document has no open revision task")
		}
		if open.AssignedUserID == nil || *open.AssignedUserID != req.AuthorID {
			return errors.New(errors.ErrCodeUnauthorized, "only the author holding the revision task can resubmit")
		}

		wf, err := workflowInFlight(ctx, tx, doc)
		if err != nil {
			return err
		}
		if !version.HasArtifact() {
			return errors.New(errors.ErrCodeMissingArtifact, "a file must be attached before resubmitting")
		}

		closed, err := tx.CloseTask(ctx, req.CompanyID, open.ID, req.AuthorID)
		if err != nil {
			return err
		}
		res.ClosedTask = closed

		task, err := enterFirstStep(ctx, tx, doc, version, wf)
		if err != nil {
			return err
		}
		res.NextTask = task
		res.DocumentStatus = repository.StatusPendingApproval
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("company_id", req.CompanyID).
		Str("document_id", req.DocumentID).
		Str("task_id", res.NextTask.ID).
		Msg("Document resubmitted for approval")

	e.publishClosed(ctx, req.AuthorID, res.ClosedTask, "resubmitted")
	e.publishOpened(ctx, req.AuthorID, res.NextTask)
	return res, nil
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel is the administrator override that ends a document's lifecycle from
// any state except published. The open task, if any, is closed.
func (e *WorkflowEngine) Cancel(ctx context.Context, req CancelRequest) (res *DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.cancel", map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
	})
	defer func() {
		span.End(err)
		e.count(ctx, "cancel", err)
	}()

	if err := requireFields(map[string]string{
		"company_id":  req.CompanyID,
		"document_id": req.DocumentID,
		"actor_id":    req.ActorID,
	}); err != nil {
		return nil, err
	}

	allowed, err := e.gate.HasRole(ctx, req.ActorID, e.adminRole, req.CompanyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "authorization check failed")
	}
	if !allowed {
		return nil, errors.Newf(errors.ErrCodeUnauthorized, "actor %s does not hold role %s", req.ActorID, e.adminRole)
	}

	res = &DecisionResult{DocumentID: req.DocumentID, DocumentStatus: repository.StatusCanceled}
	err = e.store.InTransaction(ctx, func(tx repository.Tx) error {
		doc, err := tx.LockDocument(ctx, req.CompanyID, req.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status.Terminal() {
			return statusPrecondition(doc, "cancel")
		}
		if err := tx.SetDocumentStatus(ctx, req.CompanyID, doc.ID, repository.StatusCanceled); err != nil {
			return err
		}
		if doc.CurrentVersionID == nil {
			return nil
		}

		versionID := *doc.CurrentVersionID
		res.VersionID = versionID
		if _, err := tx.LockVersion(ctx, req.CompanyID, versionID); err != nil {
			return err
		}
		if err := tx.SetVersionStatus(ctx, req.CompanyID, versionID, repository.StatusCanceled); err != nil {
			return err
		}
		open, err := tx.GetOpenTask(ctx, req.CompanyID, doc.ID, versionID)
		if err != nil || open == nil {
			return err
		}
		res.ClosedTask, err = tx.CloseTask(ctx, req.CompanyID, open.ID, req.ActorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Warn().
		Str("company_id", req.CompanyID).
		Str("document_id", req.DocumentID).
		Str("actor_id", req.ActorID).
		Str("reason", req.Reason).
		Msg("Document canceled")

	if res.ClosedTask != nil {
		e.publishClosed(ctx, req.ActorID, res.ClosedTask, "canceled")
	}
	e.events.Publish(ctx, Event{
		Type:       EventDocumentCanceled,
		CompanyID:  req.CompanyID,
		ActorID:    req.ActorID,
		DocumentID: req.DocumentID,
		VersionID:  res.VersionID,
		OccurredAt: clock.Now(),
		Payload:    map[string]any{"reason": req.Reason},
	})
	return res, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// lockDocumentVersion locks a document and one of its versions, in that order.
func lockDocumentVersion(
	ctx context.Context,
	tx repository.Tx,
	companyID, documentID, versionID string,
) (*repository.Document, *repository.DocumentVersion, error) {
	doc, err := tx.LockDocument(ctx, companyID, documentID)
	if err != nil {
		return nil, nil, err
	}
	version, err := tx.LockVersion(ctx, companyID, versionID)
	if err != nil {
		return nil, nil, err
	}
	if version.DocumentID != doc.ID {
		return nil, nil, errors.InvalidInput("version_id", "version does not belong to the document")
	}
	return doc, version, nil
}

// enterFirstStep puts document and version in pending_approval and opens the
// task for step 1.
func enterFirstStep(
	ctx context.Context,
	tx repository.Tx,
	doc *repository.Document,
	version *repository.DocumentVersion,
	wf *repository.WorkflowDefinition,
) (*repository.Task, error) {
	first, ok := wf.Step(1)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidWorkflow, "workflow %s has no step 1", wf.ID)
	}
	if err := setStatus(ctx, tx, doc, version, repository.StatusPendingApproval); err != nil {
		return nil, err
	}
	task := repository.NewStepTask(doc, version.ID, first)
	if err := tx.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// workflowInFlight loads the definition a document was submitted to.
func workflowInFlight(ctx context.Context, tx repository.Tx, doc *repository.Document) (*repository.WorkflowDefinition, error) {
	if doc.WorkflowID == nil {
		return nil, errors.Newf(errors.ErrCodeWorkflowNotFound, "document %s has no workflow", doc.ID)
	}
	wf, err := tx.GetWorkflow(ctx, doc.CompanyID, *doc.WorkflowID)
	if errors.HasCode(err, errors.ErrCodeNotFound) {
		return nil, errors.Newf(errors.ErrCodeWorkflowNotFound, "workflow %s no longer exists", *doc.WorkflowID)
	}
	return wf, err
}

func setStatus(
	ctx context.Context,
	tx repository.Tx,
	doc *repository.Document,
	version *repository.DocumentVersion,
	status repository.DocumentStatus,
) error {
	if err := tx.SetDocumentStatus(ctx, doc.CompanyID, doc.ID, status); err != nil {
		return err
	}
	return tx.SetVersionStatus(ctx, doc.CompanyID, version.ID, status)
}

// checkDecidable reports why a decision on task cannot proceed. A canceled
// document is a precondition failure even though its task is closed.
func checkDecidable(doc *repository.Document, task *repository.Task) error {
	if doc.Status == repository.StatusCanceled {
		return statusPrecondition(doc, "decide on")
	}
	if task.Status != repository.TaskOpen {
		return errors.Newf(errors.ErrCodeTaskAlreadyClosed, "task %s is already closed", task.ID)
	}
	if task.IsRevision() || task.AssignedRoleID == nil {
		return errors.New(errors.ErrCodePreconditionFailed, "revision tasks are completed by resubmitting the document")
	}
	if doc.Status != repository.StatusPendingApproval {
		return statusPrecondition(doc, "decide on")
	}
	return nil
}

func statusPrecondition(doc *repository.Document, op string) error {
	return errors.Newf(errors.ErrCodePreconditionFailed,
		"cannot %s document %s in status %s", op, doc.Code, doc.Status)
}

func requireFields(fields map[string]string) error {
	for _, name := range []string{"company_id", "document_id", "version_id", "workflow_id", "task_id", "author_id", "actor_id"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			return errors.InvalidInput(name, "is required")
		}
	}
	return nil
}

func (e *WorkflowEngine) count(ctx context.Context, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
	}
	e.decisions.Add(ctx, 1, "action", action, "outcome", outcome)
}

func (e *WorkflowEngine) publishOpened(ctx context.Context, actorID string, task *repository.Task) {
	e.events.Publish(ctx, Event{
		Type:       EventTaskOpened,
		CompanyID:  task.CompanyID,
		ActorID:    actorID,
		DocumentID: task.DocumentID,
		VersionID:  task.VersionID,
		TaskID:     task.ID,
		StepNumber: task.WorkflowStepNumber,
		Recipients: recipients(task),
		OccurredAt: clock.Now(),
		Payload:    map[string]any{"title": task.Title, "task_type": string(task.Type)},
	})
}

func (e *WorkflowEngine) publishClosed(ctx context.Context, actorID string, task *repository.Task, outcome string) {
	e.events.Publish(ctx, Event{
		Type:       EventTaskClosed,
		CompanyID:  task.CompanyID,
		ActorID:    actorID,
		DocumentID: task.DocumentID,
		VersionID:  task.VersionID,
		TaskID:     task.ID,
		StepNumber: task.WorkflowStepNumber,
		OccurredAt: clock.Now(),
		Payload:    map[string]any{"outcome": outcome},
	})
}

// recipients lists the role or user a task is assigned to.
func recipients(task *repository.Task) []string {
	switch {
	case task.AssignedUserID != nil:
		return []string{*task.AssignedUserID}
	case task.AssignedRoleID != nil:
		return []string{*task.AssignedRoleID}
	}
	return nil
}
