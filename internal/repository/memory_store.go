package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-qms-documents/internal/clock"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// MemoryStore is an in-process Store. Transactions hold a store-wide lock and
// work on a copy of the state that replaces the live state only on success,
// so a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	clock clock.Monotonic
}

type memState struct {
	workflows map[string]*WorkflowDefinition
	documents map[string]*Document
	versions  map[string]*DocumentVersion
	tasks     map[string]*Task
	history   []*HistoryEntry
	seq       int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		workflows: map[string]*WorkflowDefinition{},
		documents: map[string]*Document{},
		versions:  map[string]*DocumentVersion{},
		tasks:     map[string]*Task{},
	}}
}

// InTransaction implements Store.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, st: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// ── Reader ────────────────────────────────────────────────────────────────────

func (s *MemoryStore) GetWorkflow(_ context.Context, companyID, id string) (*WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getWorkflow(companyID, id)
}

func (s *MemoryStore) ListWorkflows(_ context.Context, companyID, module string) ([]*WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*WorkflowDefinition
	for _, wf := range s.state.workflows {
		if wf.CompanyID != companyID || (module != "" && wf.Module != module) {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountInFlightDocuments(_ context.Context, companyID, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.countInFlight(companyID, workflowID), nil
}

func (s *MemoryStore) GetDocument(_ context.Context, companyID, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getDocument(companyID, id)
}

func (s *MemoryStore) ListDocuments(_ context.Context, filter DocumentFilter) ([]*Document, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Document
	for _, d := range s.state.documents {
		if d.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != nil && d.Status != *filter.Status {
			continue
		}
		all = append(all, copyDocument(d))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Code < all[j].Code
	})

	total := int64(len(all))
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(filter.Offset, len(all))
	end := min(start+limit, len(all))
	return append(make([]*Document, 0, end-start), all[start:end]...), total, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, companyID, id string) (*DocumentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getVersion(companyID, id)
}

func (s *MemoryStore) ListHistory(_ context.Context, companyID, versionID string) ([]*HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*HistoryEntry, 0)
	for _, e := range s.state.history {
		if e.CompanyID == companyID && e.VersionID == versionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetTask(_ context.Context, companyID, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getTask(companyID, id)
}

func (s *MemoryStore) GetOpenTask(_ context.Context, companyID, documentID, versionID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.openTask(companyID, documentID, versionID), nil
}

func (s *MemoryStore) ListOpenTasks(_ context.Context, filter TaskFilter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roles := make(map[string]bool, len(filter.RoleIDs))
	for _, r := range filter.RoleIDs {
		roles[r] = true
	}
	unfiltered := filter.UserID == "" && len(roles) == 0

	out := make([]*Task, 0)
	for _, t := range s.state.tasks {
		if t.CompanyID != filter.CompanyID || t.Status != TaskOpen {
			continue
		}
		match := unfiltered ||
			(t.AssignedRoleID != nil && roles[*t.AssignedRoleID]) ||
			(filter.UserID != "" && t.AssignedUserID != nil && *t.AssignedUserID == filter.UserID)
		if match {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── Tx ────────────────────────────────────────────────────────────────────────

// memTx mutates a private copy of the store state. The store lock is held for
// the lifetime of the transaction, so Lock* reads need no extra locking.
type memTx struct {
	store *MemoryStore
	st    *memState
}

func (tx *memTx) GetWorkflow(_ context.Context, companyID, id string) (*WorkflowDefinition, error) {
	return tx.st.getWorkflow(companyID, id)
}

func (tx *memTx) CreateWorkflow(_ context.Context, wf *WorkflowDefinition) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	wf.ID = uuid.NewString()
	wf.CreatedAt = tx.store.clock.Next()
	tx.st.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (tx *memTx) DeleteWorkflow(_ context.Context, companyID, id string) error {
	wf, ok := tx.st.workflows[id]
	if !ok || wf.CompanyID != companyID {
		return errors.NotFound("workflow", id)
	}
	for _, d := range tx.st.documents {
		if d.WorkflowID != nil && *d.WorkflowID == id {
			return errors.New(errors.ErrCodeConflict, "workflow is referenced by documents")
		}
	}
	delete(tx.st.workflows, id)
	return nil
}

func (tx *memTx) CountInFlightDocuments(_ context.Context, companyID, workflowID string) (int, error) {
	return tx.st.countInFlight(companyID, workflowID), nil
}

func (tx *memTx) CreateDocument(_ context.Context, doc *Document, version *DocumentVersion) error {
	for _, d := range tx.st.documents {
		if d.CompanyID == doc.CompanyID && d.Code == doc.Code {
			return errors.Newf(errors.ErrCodeConflict, "document code %s already exists", doc.Code)
		}
	}
	now := tx.store.clock.Next()

	doc.ID = uuid.NewString()
	doc.CreatedAt, doc.UpdatedAt = now, now

	version.ID = uuid.NewString()
	version.CompanyID = doc.CompanyID
	version.DocumentID = doc.ID
	version.CreatedAt, version.UpdatedAt = now, now
	doc.CurrentVersionID = &version.ID

	tx.st.documents[doc.ID] = copyDocument(doc)
	v := *version
	tx.st.versions[version.ID] = &v
	return nil
}

func (tx *memTx) LockDocument(_ context.Context, companyID, id string) (*Document, error) {
	return tx.st.getDocument(companyID, id)
}

func (tx *memTx) LockVersion(_ context.Context, companyID, id string) (*DocumentVersion, error) {
	return tx.st.getVersion(companyID, id)
}

func (tx *memTx) SetDocumentStatus(_ context.Context, companyID, id string, status DocumentStatus) error {
	d, ok := tx.st.documents[id]
	if !ok || d.CompanyID != companyID {
		return errors.NotFound("document", id)
	}
	d.Status = status
	d.UpdatedAt = tx.store.clock.Next()
	return nil
}

func (tx *memTx) SetDocumentWorkflow(_ context.Context, companyID, id, workflowID string) error {
	d, ok := tx.st.documents[id]
	if !ok || d.CompanyID != companyID {
		return errors.NotFound("document", id)
	}
	if _, ok := tx.st.workflows[workflowID]; !ok {
		return errors.NotFound("workflow", workflowID)
	}
	d.WorkflowID = &workflowID
	d.UpdatedAt = tx.store.clock.Next()
	return nil
}

func (tx *memTx) SetVersionStatus(_ context.Context, companyID, id string, status DocumentStatus) error {
	v, ok := tx.st.versions[id]
	if !ok || v.CompanyID != companyID {
		return errors.NotFound("document_version", id)
	}
	v.Status = status
	v.UpdatedAt = tx.store.clock.Next()
	return nil
}

func (tx *memTx) SetVersionArtifact(_ context.Context, companyID, id string, fileReference *string, revisionNotes string) error {
	v, ok := tx.st.versions[id]
	if !ok || v.CompanyID != companyID {
		return errors.NotFound("document_version", id)
	}
	v.FileReference = copyString(fileReference)
	v.RevisionNotes = revisionNotes
	v.UpdatedAt = tx.store.clock.Next()
	return nil
}

func (tx *memTx) LockTask(_ context.Context, companyID, id string) (*Task, error) {
	return tx.st.getTask(companyID, id)
}

func (tx *memTx) GetOpenTask(_ context.Context, companyID, documentID, versionID string) (*Task, error) {
	return tx.st.openTask(companyID, documentID, versionID), nil
}

func (tx *memTx) CreateTask(_ context.Context, task *Task) error {
	if tx.st.openTask(task.CompanyID, task.DocumentID, task.VersionID) != nil {
		return errors.New(errors.ErrCodeConflict, "version already has an open task")
	}
	task.ID = uuid.NewString()
	task.Status = TaskOpen
	task.CreatedAt = tx.store.clock.Next()
	tx.st.tasks[task.ID] = copyTask(task)
	return nil
}

func (tx *memTx) CloseTask(_ context.Context, companyID, id, closedBy string) (*Task, error) {
	t, ok := tx.st.tasks[id]
	if !ok || t.CompanyID != companyID {
		return nil, errors.NotFound("task", id)
	}
	if t.Status != TaskOpen {
		return nil, errors.Newf(errors.ErrCodeTaskAlreadyClosed, "task %s is already closed", id)
	}
	now := tx.store.clock.Next()
	t.Status = TaskClosed
	t.ClosedAt = &now
	t.ClosedBy = &closedBy
	return copyTask(t), nil
}

func (tx *memTx) AppendHistory(_ context.Context, entry *HistoryEntry) error {
	tx.st.seq++
	entry.Seq = tx.st.seq
	entry.ID = uuid.NewString()
	entry.PerformedAt = tx.store.clock.Next()
	e := *entry
	e.TaskID = copyString(entry.TaskID)
	tx.st.history = append(tx.st.history, &e)
	return nil
}

// ── state helpers ─────────────────────────────────────────────────────────────

func (st *memState) clone() *memState {
	c := &memState{
		workflows: make(map[string]*WorkflowDefinition, len(st.workflows)),
		documents: make(map[string]*Document, len(st.documents)),
		versions:  make(map[string]*DocumentVersion, len(st.versions)),
		tasks:     make(map[string]*Task, len(st.tasks)),
		history:   append([]*HistoryEntry(nil), st.history...),
		seq:       st.seq,
	}
	for k, v := range st.workflows {
		c.workflows[k] = copyWorkflow(v)
	}
	for k, v := range st.documents {
		c.documents[k] = copyDocument(v)
	}
	for k, v := range st.versions {
		cp := *v
		cp.FileReference = copyString(v.FileReference)
		c.versions[k] = &cp
	}
	for k, v := range st.tasks {
		c.tasks[k] = copyTask(v)
	}
	return c
}

func (st *memState) getWorkflow(companyID, id string) (*WorkflowDefinition, error) {
	wf, ok := st.workflows[id]
	if !ok || wf.CompanyID != companyID {
		return nil, errors.NotFound("workflow", id)
	}
	return copyWorkflow(wf), nil
}

func (st *memState) getDocument(companyID, id string) (*Document, error) {
	d, ok := st.documents[id]
	if !ok || d.CompanyID != companyID {
		return nil, errors.NotFound("document", id)
	}
	return copyDocument(d), nil
}

func (st *memState) getVersion(companyID, id string) (*DocumentVersion, error) {
	v, ok := st.versions[id]
	if !ok || v.CompanyID != companyID {
		return nil, errors.NotFound("document_version", id)
	}
	cp := *v
	cp.FileReference = copyString(v.FileReference)
	return &cp, nil
}

func (st *memState) getTask(companyID, id string) (*Task, error) {
	t, ok := st.tasks[id]
	if !ok || t.CompanyID != companyID {
		return nil, errors.NotFound("task", id)
	}
	return copyTask(t), nil
}

func (st *memState) openTask(companyID, documentID, versionID string) *Task {
	for _, t := range st.tasks {
		if t.CompanyID == companyID && t.DocumentID == documentID && t.VersionID == versionID && t.Status == TaskOpen {
			return copyTask(t)
		}
	}
	return nil
}

func (st *memState) countInFlight(companyID, workflowID string) int {
	n := 0
	for _, d := range st.documents {
		if d.CompanyID == companyID && d.WorkflowID != nil && *d.WorkflowID == workflowID && d.Status.InFlight() {
			n++
		}
	}
	return n
}

// OpenTaskCount reports how many open tasks a version has. Used by tests to
// assert the one-open-task invariant.
func (s *MemoryStore) OpenTaskCount(documentID, versionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.state.tasks {
		if t.DocumentID == documentID && t.VersionID == versionID && t.Status == TaskOpen {
			n++
		}
	}
	return n
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyWorkflow(wf *WorkflowDefinition) *WorkflowDefinition {
	cp := *wf
	cp.Steps = append([]WorkflowStep(nil), wf.Steps...)
	cp.CreatedBy = copyString(wf.CreatedBy)
	return &cp
}

func copyDocument(d *Document) *Document {
	cp := *d
	cp.DepartmentID = copyString(d.DepartmentID)
	cp.WorkflowID = copyString(d.WorkflowID)
	cp.CurrentVersionID = copyString(d.CurrentVersionID)
	return &cp
}

func copyTask(t *Task) *Task {
	cp := *t
	cp.AssignedRoleID = copyString(t.AssignedRoleID)
	cp.AssignedUserID = copyString(t.AssignedUserID)
	cp.ClosedBy = copyString(t.ClosedBy)
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		cp.ClosedAt = &at
	}
	return &cp
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)
