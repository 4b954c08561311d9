package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-qms-documents/internal/database"
)

// Reader is the read side used by the services outside of transactions.
type Reader interface {
	GetWorkflow(ctx context.Context, companyID, id string) (*WorkflowDefinition, error)
	ListWorkflows(ctx context.Context, companyID, module string) ([]*WorkflowDefinition, error)
	CountInFlightDocuments(ctx context.Context, companyID, workflowID string) (int, error)

	GetDocument(ctx context.Context, companyID, id string) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, int64, error)
	GetVersion(ctx context.Context, companyID, id string) (*DocumentVersion, error)
	ListHistory(ctx context.Context, companyID, versionID string) ([]*HistoryEntry, error)

	GetTask(ctx context.Context, companyID, id string) (*Task, error)
	GetOpenTask(ctx context.Context, companyID, documentID, versionID string) (*Task, error)
	ListOpenTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
}

// Tx is the set of operations available inside one atomic unit. Lock* reads
// take row locks so concurrent transactions touching the same rows serialize.
type Tx interface {
	GetWorkflow(ctx context.Context, companyID, id string) (*WorkflowDefinition, error)
	CreateWorkflow(ctx context.Context, wf *WorkflowDefinition) error
	DeleteWorkflow(ctx context.Context, companyID, id string) error
	CountInFlightDocuments(ctx context.Context, companyID, workflowID string) (int, error)

	CreateDocument(ctx context.Context, doc *Document, version *DocumentVersion) error
	LockDocument(ctx context.Context, companyID, id string) (*Document, error)
	LockVersion(ctx context.Context, companyID, id string) (*DocumentVersion, error)
	SetDocumentStatus(ctx context.Context, companyID, id string, status DocumentStatus) error
	SetDocumentWorkflow(ctx context.Context, companyID, id, workflowID string) error
	SetVersionStatus(ctx context.Context, companyID, id string, status DocumentStatus) error
	SetVersionArtifact(ctx context.Context, companyID, id string, fileReference *string, revisionNotes string) error

	LockTask(ctx context.Context, companyID, id string) (*Task, error)
	GetOpenTask(ctx context.Context, companyID, documentID, versionID string) (*Task, error)
	CreateTask(ctx context.Context, task *Task) error
	CloseTask(ctx context.Context, companyID, id, closedBy string) (*Task, error)

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
}

// Store is the persistence boundary of the service.
type Store interface {
	Reader
	// InTransaction runs fn atomically: either every write made through tx is
	// kept or none is.
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// PostgresStore implements Store on top of the per-table repositories.
type PostgresStore struct {
	db *database.DB
	repos
}

// repos bundles the table repositories bound to one Querier (pool or tx).
type repos struct {
	*WorkflowRepository
	*DocumentRepository
	*TaskRepository
	*ApprovalHistoryRepository
}

func newRepos(q database.Querier) repos {
	return repos{
		WorkflowRepository:        NewWorkflowRepository(q),
		DocumentRepository:        NewDocumentRepository(q),
		TaskRepository:            NewTaskRepository(q),
		ApprovalHistoryRepository: NewApprovalHistoryRepository(q),
	}
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, repos: newRepos(db)}
}

// InTransaction implements Store.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&postgresTx{repos: newRepos(tx)})
	})
}

// postgresTx routes Tx calls to transaction-bound repositories.
type postgresTx struct {
	repos
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// validID reports whether id can name a row. Primary keys are UUIDs, so any
// other string cannot match and is answered without a round trip.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*postgresTx)(nil)
)
