package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
)

const (
	company   = "c1"
	author    = "author-1"
	adminRole = "document_admin"
)

// roleGate grants role r to the user named holder(r).
type roleGate struct{}

func (roleGate) HasRole(_ context.Context, actorID, roleID, companyID string) (bool, error) {
	return companyID == company && actorID == holder(roleID), nil
}

func holder(role string) string { return "user-" + role }

type mockGate struct {
	mock.Mock
}

func (m *mockGate) HasRole(ctx context.Context, actorID, roleID, companyID string) (bool, error) {
	args := m.Called(ctx, actorID, roleID, companyID)
	return args.Bool(0), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	events    *recordingPublisher
	engine    *WorkflowEngine
	documents *DocumentService
	workflows *WorkflowDefinitionService
	tasks     *TaskService
}

func newFixture(t *testing.T, gate AuthorizationGate) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	events := &recordingPublisher{}
	log := logger.Nop()
	return &fixture{
		store:     store,
		events:    events,
		engine:    NewWorkflowEngine(store, gate, events, adminRole, log),
		documents: NewDocumentService(store, log),
		workflows: NewWorkflowDefinitionService(store, log),
		tasks:     NewTaskService(store),
	}
}

// workflow creates a definition whose step i requires roles[i-1].
func (f *fixture) workflow(t *testing.T, roles ...string) *repository.WorkflowDefinition {
	t.Helper()
	steps := make([]repository.WorkflowStep, len(roles))
	for i, r := range roles {
		steps[i] = repository.WorkflowStep{StepNumber: i + 1, StepName: fmt.Sprintf("Step %d", i+1), RequiredRole: r}
	}
	wf, err := f.workflows.CreateWorkflow(context.Background(), &CreateWorkflowRequest{
		CompanyID: company,
		Name:      fmt.Sprintf("W%d", len(roles)),
		Module:    "documents",
		Steps:     steps,
		CreatedBy: "admin",
	})
	require.NoError(t, err)
	return wf
}

func (f *fixture) draft(t *testing.T, code string, withFile bool) (*repository.Document, *repository.DocumentVersion) {
	t.Helper()
	req := &CreateDocumentRequest{
		CompanyID: company,
		Code:      code,
		Title:     "Title of " + code,
		Type:      "procedure",
		CreatedBy: author,
	}
	if withFile {
		ref := "files/" + code + ".pdf"
		req.FileReference = &ref
	}
	doc, version, err := f.documents.CreateDocument(context.Background(), req)
	require.NoError(t, err)
	return doc, version
}

func (f *fixture) submit(t *testing.T, doc *repository.Document, version *repository.DocumentVersion, wf *repository.WorkflowDefinition) *DecisionResult {
	t.Helper()
	res, err := f.engine.Submit(context.Background(), SubmitRequest{
		CompanyID:  company,
		DocumentID: doc.ID,
		VersionID:  version.ID,
		WorkflowID: wf.ID,
		AuthorID:   author,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) approve(t *testing.T, task *repository.Task) *DecisionResult {
	t.Helper()
	res, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder(*task.AssignedRoleID),
		ActorRole: *task.AssignedRoleID,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) reject(t *testing.T, task *repository.Task, notes string) *DecisionResult {
	t.Helper()
	res, err := f.engine.Reject(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder(*task.AssignedRoleID),
		ActorRole: *task.AssignedRoleID,
		Notes:     notes,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, doc *repository.Document, version *repository.DocumentVersion) (repository.DocumentStatus, repository.DocumentStatus) {
	t.Helper()
	d, err := f.store.GetDocument(context.Background(), company, doc.ID)
	require.NoError(t, err)
	v, err := f.store.GetVersion(context.Background(), company, version.ID)
	require.NoError(t, err)
	return d.Status, v.Status
}

func (f *fixture) history(t *testing.T, version *repository.DocumentVersion) []*repository.HistoryEntry {
	t.Helper()
	entries, err := f.store.ListHistory(context.Background(), company, version.ID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) openTask(t *testing.T, doc *repository.Document, version *repository.DocumentVersion) *repository.Task {
	t.Helper()
	task, err := f.store.GetOpenTask(context.Background(), company, doc.ID, version.ID)
	require.NoError(t, err)
	return task
}

func assertCode(t *testing.T, err error, code errors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, errors.CodeOf(err), "error: %v", err)
}

// ── Concrete scenarios ────────────────────────────────────────────────────────

func TestTwoStepWorkflowPublishes(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-001", true)

	submitted := f.submit(t, doc, version, wf)
	require.NotNil(t, submitted.NextTask)
	assert.Equal(t, 1, submitted.NextTask.WorkflowStepNumber)
	assert.Equal(t, "role_qa", *submitted.NextTask.AssignedRoleID)
	assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))

	docStatus, versionStatus := f.status(t, doc, version)
	assert.Equal(t, repository.StatusPendingApproval, docStatus)
	assert.Equal(t, repository.StatusPendingApproval, versionStatus)

	step1 := f.approve(t, submitted.NextTask)
	assert.Equal(t, repository.TaskClosed, step1.ClosedTask.Status)
	require.NotNil(t, step1.NextTask)
	assert.Equal(t, 2, step1.NextTask.WorkflowStepNumber)
	assert.Equal(t, "role_mgr", *step1.NextTask.AssignedRoleID)
	assert.Equal(t, repository.StatusPendingApproval, step1.DocumentStatus)

	step2 := f.approve(t, step1.NextTask)
	assert.Nil(t, step2.NextTask)
	assert.Equal(t, repository.StatusPublished, step2.DocumentStatus)

	docStatus, versionStatus = f.status(t, doc, version)
	assert.Equal(t, repository.StatusPublished, docStatus)
	assert.Equal(t, repository.StatusPublished, versionStatus)
	assert.Equal(t, 0, f.store.OpenTaskCount(doc.ID, version.ID))

	history := f.history(t, version)
	require.Len(t, history, 2)
	for i, e := range history {
		assert.Equal(t, repository.ActionApproved, e.Action)
		assert.Equal(t, i+1, e.StepNumber)
	}

	assert.Equal(t, []string{
		EventTaskOpened,
		EventTaskClosed, EventTaskOpened,
		EventTaskClosed, EventDocumentPublished,
	}, f.events.types())
}

func TestRejectThenResubmitRestartsAtStepOne(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-002", true)

	step1 := f.approve(t, f.submit(t, doc, version, wf).NextTask)
	rejected := f.reject(t, step1.NextTask, "formatting incorrect")

	assert.Equal(t, repository.StatusRevision, rejected.DocumentStatus)
	docStatus, versionStatus := f.status(t, doc, version)
	assert.Equal(t, repository.StatusRevision, docStatus)
	assert.Equal(t, repository.StatusRevision, versionStatus)

	revision := f.openTask(t, doc, version)
	require.NotNil(t, revision)
	assert.Equal(t, 0, revision.WorkflowStepNumber)
	assert.Nil(t, revision.AssignedRoleID)
	require.NotNil(t, revision.AssignedUserID)
	assert.Equal(t, author, *revision.AssignedUserID)
	assert.Equal(t, repository.TaskTypeRevision, revision.Type)

	history := f.history(t, version)
	require.Len(t, history, 2)
	assert.Equal(t, repository.ActionApproved, history[0].Action)
	assert.Equal(t, 1, history[0].StepNumber)
	assert.Equal(t, repository.ActionRejected, history[1].Action)
	assert.Equal(t, 2, history[1].StepNumber)
	assert.Equal(t, "formatting incorrect", history[1].Notes)

	resubmitted, err := f.engine.Resubmit(context.Background(), ResubmitRequest{
		CompanyID:  company,
		DocumentID: doc.ID,
		VersionID:  version.ID,
		AuthorID:   author,
	})
	require.NoError(t, err)
	assert.Equal(t, revision.ID, resubmitted.ClosedTask.ID)
	assert.Equal(t, 1, resubmitted.NextTask.WorkflowStepNumber)
	assert.Equal(t, "role_qa", *resubmitted.NextTask.AssignedRoleID)

	docStatus, _ = f.status(t, doc, version)
	assert.Equal(t, repository.StatusPendingApproval, docStatus)
	assert.Len(t, f.history(t, version), 2)
	assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
}

// ── Properties over N ─────────────────────────────────────────────────────────

func TestApprovingEveryStepPublishes(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d steps", n), func(t *testing.T) {
			f := newFixture(t, roleGate{})
			roles := make([]string, n)
			for i := range roles {
				roles[i] = fmt.Sprintf("role_%d", i+1)
			}
			wf := f.workflow(t, roles...)
			doc, version := f.draft(t, "DOC", true)

			task := f.submit(t, doc, version, wf).NextTask
			for step := 1; step <= n; step++ {
				require.NotNil(t, task)
				assert.Equal(t, step, task.WorkflowStepNumber)
				assert.Equal(t, roles[step-1], *task.AssignedRoleID)
				assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
				task = f.approve(t, task).NextTask
			}
			assert.Nil(t, task)

			docStatus, versionStatus := f.status(t, doc, version)
			assert.Equal(t, repository.StatusPublished, docStatus)
			assert.Equal(t, repository.StatusPublished, versionStatus)

			history := f.history(t, version)
			require.Len(t, history, n)
			for i, e := range history {
				assert.Equal(t, repository.ActionApproved, e.Action)
				assert.Equal(t, i+1, e.StepNumber)
				if i > 0 {
					assert.True(t, e.PerformedAt.After(history[i-1].PerformedAt))
				}
			}
		})
	}
}

func TestRejectAtAnyStepReturnsToAuthor(t *testing.T) {
	const n = 4
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("reject at %d", k), func(t *testing.T) {
			f := newFixture(t, roleGate{})
			wf := f.workflow(t, "r1", "r2", "r3", "r4")
			doc, version := f.draft(t, "DOC", true)

			task := f.submit(t, doc, version, wf).NextTask
			for step := 1; step < k; step++ {
				task = f.approve(t, task).NextTask
			}
			res := f.reject(t, task, "  needs work  ")

			assert.Equal(t, repository.StatusRevision, res.DocumentStatus)
			assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
			require.NotNil(t, res.NextTask.AssignedUserID)
			assert.Equal(t, author, *res.NextTask.AssignedUserID)

			var rejected []*repository.HistoryEntry
			for _, e := range f.history(t, version) {
				if e.Action == repository.ActionRejected {
					rejected = append(rejected, e)
				}
			}
			require.Len(t, rejected, 1)
			assert.Equal(t, k, rejected[0].StepNumber)
			assert.Equal(t, "needs work", rejected[0].Notes)

			_, err := f.engine.Resubmit(context.Background(), ResubmitRequest{
				CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, AuthorID: author,
			})
			require.NoError(t, err)
			assert.Equal(t, 1, f.openTask(t, doc, version).WorkflowStepNumber)
		})
	}
}

// ── Error cases ───────────────────────────────────────────────────────────────

func TestRejectWithoutReason(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-003", true)
	task := f.submit(t, doc, version, wf).NextTask

	for _, notes := range []string{"", "   \t\n"} {
		_, err := f.engine.Reject(context.Background(), DecisionRequest{
			CompanyID: company,
			TaskID:    task.ID,
			ActorID:   holder("role_qa"),
			Notes:     notes,
		})
		assertCode(t, err, errors.ErrCodeMissingRejectionReason)
	}

	docStatus, _ := f.status(t, doc, version)
	assert.Equal(t, repository.StatusPendingApproval, docStatus)
	assert.Empty(t, f.history(t, version))
	assert.Equal(t, task.ID, f.openTask(t, doc, version).ID)
}

func TestDoubleApprove(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-004", true)
	task := f.submit(t, doc, version, wf).NextTask
	f.approve(t, task)

	_, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder("role_qa"),
	})
	assertCode(t, err, errors.ErrCodeTaskAlreadyClosed)

	assert.Len(t, f.history(t, version), 1)
	assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
	assert.Equal(t, 2, f.openTask(t, doc, version).WorkflowStepNumber)
}

func TestDoubleApproveOfLastStep(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-005", true)
	task := f.submit(t, doc, version, wf).NextTask
	f.approve(t, task)

	_, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company, TaskID: task.ID, ActorID: holder("role_qa"),
	})
	assertCode(t, err, errors.ErrCodeTaskAlreadyClosed)
	assert.Len(t, f.history(t, version), 1)
}

func TestConcurrentDecisionsHaveOneWinner(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-006", true)
	task := f.submit(t, doc, version, wf).NextTask

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: holder("role_qa"), Notes: "race"}
			if i%2 == 0 {
				_, errs[i] = f.engine.Approve(context.Background(), req)
			} else {
				_, errs[i] = f.engine.Reject(context.Background(), req)
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assertCode(t, err, errors.ErrCodeTaskAlreadyClosed)
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, f.history(t, version), 1)
	assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
}

func TestDecisionRequiresRole(t *testing.T) {
	gate := &mockGate{}
	gate.On("HasRole", mock.Anything, "intruder", "role_qa", company).Return(false, nil)
	gate.On("HasRole", mock.Anything, "flaky", "role_qa", company).Return(false, stderrors.New("identity unavailable"))

	f := newFixture(t, gate)
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-007", true)
	task := f.submit(t, doc, version, wf).NextTask

	_, err := f.engine.Approve(context.Background(), DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: "intruder"})
	assertCode(t, err, errors.ErrCodeUnauthorized)

	_, err = f.engine.Reject(context.Background(), DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: "intruder", Notes: "no"})
	assertCode(t, err, errors.ErrCodeUnauthorized)

	_, err = f.engine.Approve(context.Background(), DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: "flaky"})
	assertCode(t, err, errors.ErrCodeInternal)
	assert.ErrorContains(t, err, "identity unavailable")

	assert.Empty(t, f.history(t, version))
	assert.Equal(t, task.ID, f.openTask(t, doc, version).ID)
	gate.AssertExpectations(t)
}

func TestSubmitPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")

	t.Run("missing artifact", func(t *testing.T) {
		doc, version := f.draft(t, "NOFILE", false)
		_, err := f.engine.Submit(ctx, SubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, WorkflowID: wf.ID, AuthorID: author})
		assertCode(t, err, errors.ErrCodeMissingArtifact)
		assert.Equal(t, 0, f.store.OpenTaskCount(doc.ID, version.ID))
		docStatus, _ := f.status(t, doc, version)
		assert.Equal(t, repository.StatusDraft, docStatus)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		doc, version := f.draft(t, "NOWF", true)
		_, err := f.engine.Submit(ctx, SubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, WorkflowID: "missing", AuthorID: author})
		assertCode(t, err, errors.ErrCodeInvalidWorkflow)
	})

	t.Run("not the author", func(t *testing.T) {
		doc, version := f.draft(t, "OTHER", true)
		_, err := f.engine.Submit(ctx, SubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, WorkflowID: wf.ID, AuthorID: "someone-else"})
		assertCode(t, err, errors.ErrCodeUnauthorized)
	})

	t.Run("already submitted", func(t *testing.T) {
		doc, version := f.draft(t, "TWICE", true)
		f.submit(t, doc, version, wf)
		_, err := f.engine.Submit(ctx, SubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, WorkflowID: wf.ID, AuthorID: author})
		assertCode(t, err, errors.ErrCodePreconditionFailed)
		assert.Equal(t, 1, f.store.OpenTaskCount(doc.ID, version.ID))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := f.engine.Submit(ctx, SubmitRequest{CompanyID: company})
		assertCode(t, err, errors.ErrCodeInvalidInput)
	})
}

func TestResubmitPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-008", true)
	task := f.submit(t, doc, version, wf).NextTask

	_, err := f.engine.Resubmit(ctx, ResubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, AuthorID: author})
	assertCode(t, err, errors.ErrCodePreconditionFailed)

	f.reject(t, task, "wrong template")

	_, err = f.engine.Resubmit(ctx, ResubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, AuthorID: "someone-else"})
	assertCode(t, err, errors.ErrCodeUnauthorized)

	revision := f.openTask(t, doc, version)
	_, err = f.engine.Approve(ctx, DecisionRequest{CompanyID: company, TaskID: revision.ID, ActorID: author})
	assertCode(t, err, errors.ErrCodePreconditionFailed)

	docStatus, _ := f.status(t, doc, version)
	assert.Equal(t, repository.StatusRevision, docStatus)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-009", true)
	task := f.submit(t, doc, version, wf).NextTask

	_, err := f.engine.Cancel(ctx, CancelRequest{CompanyID: company, DocumentID: doc.ID, ActorID: author})
	assertCode(t, err, errors.ErrCodeUnauthorized)

	res, err := f.engine.Cancel(ctx, CancelRequest{CompanyID: company, DocumentID: doc.ID, ActorID: holder(adminRole), Reason: "obsolete"})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCanceled, res.DocumentStatus)
	require.NotNil(t, res.ClosedTask)
	assert.Equal(t, task.ID, res.ClosedTask.ID)
	assert.Equal(t, 0, f.store.OpenTaskCount(doc.ID, version.ID))

	docStatus, versionStatus := f.status(t, doc, version)
	assert.Equal(t, repository.StatusCanceled, docStatus)
	assert.Equal(t, repository.StatusCanceled, versionStatus)

	_, err = f.engine.Approve(ctx, DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: holder("role_qa")})
	assertCode(t, err, errors.ErrCodePreconditionFailed)
	_, err = f.engine.Reject(ctx, DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: holder("role_qa"), Notes: "x"})
	assertCode(t, err, errors.ErrCodePreconditionFailed)
	_, err = f.engine.Submit(ctx, SubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, WorkflowID: wf.ID, AuthorID: author})
	assertCode(t, err, errors.ErrCodePreconditionFailed)
	_, err = f.engine.Resubmit(ctx, ResubmitRequest{CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, AuthorID: author})
	assertCode(t, err, errors.ErrCodePreconditionFailed)
	_, err = f.engine.Cancel(ctx, CancelRequest{CompanyID: company, DocumentID: doc.ID, ActorID: holder(adminRole)})
	assertCode(t, err, errors.ErrCodePreconditionFailed)

	assert.Contains(t, f.events.types(), EventDocumentCanceled)
}

func TestCancelPublishedDocument(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-010", true)
	f.approve(t, f.submit(t, doc, version, wf).NextTask)

	_, err := f.engine.Cancel(context.Background(), CancelRequest{CompanyID: company, DocumentID: doc.ID, ActorID: holder(adminRole)})
	assertCode(t, err, errors.ErrCodePreconditionFailed)
}

// vanishingStore hides workflow definitions from transactions, as if the
// definition was removed while a document was in flight.
type vanishingStore struct {
	*repository.MemoryStore
}

func (s vanishingStore) InTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.MemoryStore.InTransaction(ctx, func(tx repository.Tx) error {
		return fn(vanishingTx{tx})
	})
}

type vanishingTx struct {
	repository.Tx
}

func (vanishingTx) GetWorkflow(_ context.Context, _, id string) (*repository.WorkflowDefinition, error) {
	return nil, errors.NotFound("workflow", id)
}

func TestApproveWhenWorkflowVanished(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-011", true)
	task := f.submit(t, doc, version, wf).NextTask

	engine := NewWorkflowEngine(vanishingStore{f.store}, roleGate{}, nil, adminRole, logger.Nop())
	_, err := engine.Approve(context.Background(), DecisionRequest{CompanyID: company, TaskID: task.ID, ActorID: holder("role_qa")})
	assertCode(t, err, errors.ErrCodeWorkflowNotFound)

	assert.Empty(t, f.history(t, version))
	assert.Equal(t, task.ID, f.openTask(t, doc, version).ID)
}

func TestHistoryRecordsActorRole(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-012", true)
	task := f.submit(t, doc, version, wf).NextTask

	res, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder("role_qa"),
		Notes:     "looks good",
	})
	require.NoError(t, err)
	assert.Equal(t, "role_qa", res.Entry.ActorRole)
	assert.Equal(t, "looks good", res.Entry.Notes)
	require.NotNil(t, res.Entry.TaskID)
	assert.Equal(t, task.ID, *res.Entry.TaskID)
	assert.False(t, res.Entry.PerformedAt.IsZero())
}

func TestDecisionRejectsForeignActorRole(t *testing.T) {
	f := newFixture(t, roleGate{})
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-013", true)
	task := f.submit(t, doc, version, wf).NextTask

	for _, decide := range []func(context.Context, DecisionRequest) (*DecisionResult, error){
		f.engine.Approve, f.engine.Reject,
	} {
		_, err := decide(context.Background(), DecisionRequest{
			CompanyID: company,
			TaskID:    task.ID,
			ActorID:   holder("role_qa"),
			ActorRole: "role_ceo",
			Notes:     "signed off as CEO",
		})
		assertCode(t, err, errors.ErrCodeUnauthorized)
	}

	open := f.openTask(t, doc, version)
	require.NotNil(t, open)
	assert.Equal(t, task.ID, open.ID)
	assert.Empty(t, f.history(t, version))

	res, err := f.engine.Approve(context.Background(), DecisionRequest{
		CompanyID: company,
		TaskID:    task.ID,
		ActorID:   holder("role_qa"),
		ActorRole: "role_qa",
	})
	require.NoError(t, err)
	assert.Equal(t, "role_qa", res.Entry.ActorRole)
}
