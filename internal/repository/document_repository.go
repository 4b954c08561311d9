package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-qms-documents/internal/database"
	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// DocumentRepository handles documents and document_versions.
type DocumentRepository struct {
	q database.Querier
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(q database.Querier) *DocumentRepository {
	return &DocumentRepository{q: q}
}

const documentColumns = `
	id, company_id, code, title, doc_type, department_id, workflow_id,
	status, current_version_id, created_by, created_at, updated_at
`

const versionColumns = `
	id, company_id, document_id, version_number, file_reference,
	revision_notes, status, created_by, created_at, updated_at
`

// CreateDocument inserts a document with its first version and points the
// document at it. Must run inside a transaction.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *Document, version *DocumentVersion) error {
	query := `
		INSERT INTO documents (company_id, code, title, doc_type, department_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		doc.CompanyID,
		doc.Code,
		doc.Title,
		doc.Type,
		doc.DepartmentID,
		doc.Status,
		doc.CreatedBy,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if database.IsUniqueViolation(err, "documents_company_code_key") {
		return errors.Newf(errors.ErrCodeConflict, "document code %s already exists", doc.Code)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document")
	}

	versionQuery := `
		INSERT INTO document_versions
		    (company_id, document_id, version_number, file_reference, revision_notes, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	version.CompanyID = doc.CompanyID
	version.DocumentID = doc.ID
	err = r.q.QueryRow(ctx, versionQuery,
		version.CompanyID,
		version.DocumentID,
		version.VersionNumber,
		version.FileReference,
		version.RevisionNotes,
		version.Status,
		version.CreatedBy,
	).Scan(&version.ID, &version.CreatedAt, &version.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document version")
	}

	_, err = r.q.Exec(ctx, `UPDATE documents SET current_version_id = $2 WHERE id = $1`, doc.ID, version.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set current version")
	}
	doc.CurrentVersionID = &version.ID
	return nil
}

// GetDocument retrieves a document by id within a company.
func (r *DocumentRepository) GetDocument(ctx context.Context, companyID, id string) (*Document, error) {
	if !validID(id) {
		return nil, errors.NotFound("document", id)
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND company_id = $2`

	doc, err := r.scanDocument(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document")
	}
	return doc, nil
}

// LockDocument reads a document and locks its row until the transaction ends.
func (r *DocumentRepository) LockDocument(ctx context.Context, companyID, id string) (*Document, error) {
	if !validID(id) {
		return nil, errors.NotFound("document", id)
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND company_id = $2 FOR UPDATE`

	doc, err := r.scanDocument(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock document")
	}
	return doc, nil
}

// ListDocuments lists a company's documents, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, int64, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1`
	countQuery := `SELECT COUNT(*) FROM documents WHERE company_id = $1`

	args := []any{filter.CompanyID}
	argCount := 2

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filter.Status)
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, code ASC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(append([]any{}, args...), limit, filter.Offset)

	var total int64
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count documents")
	}

	rows, err := r.q.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list documents")
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// SetDocumentStatus updates the lifecycle status of a document.
func (r *DocumentRepository) SetDocumentStatus(ctx context.Context, companyID, id string, status DocumentStatus) error {
	if !validID(id) {
		return errors.NotFound("document", id)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE documents
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update document status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document", id)
	}
	return nil
}

// SetDocumentWorkflow records the workflow a document was submitted to.
func (r *DocumentRepository) SetDocumentWorkflow(ctx context.Context, companyID, id, workflowID string) error {
	if !validID(id) {
		return errors.NotFound("document", id)
	}
	if !validID(workflowID) {
		return errors.NotFound("workflow", workflowID)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE documents
		SET workflow_id = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, workflowID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set document workflow")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document", id)
	}
	return nil
}

// GetVersion retrieves a document version.
func (r *DocumentRepository) GetVersion(ctx context.Context, companyID, id string) (*DocumentVersion, error) {
	if !validID(id) {
		return nil, errors.NotFound("document_version", id)
	}
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1 AND company_id = $2`

	v, err := r.scanVersion(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document_version", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document version")
	}
	return v, nil
}

// LockVersion reads a version and locks its row until the transaction ends.
func (r *DocumentRepository) LockVersion(ctx context.Context, companyID, id string) (*DocumentVersion, error) {
	if !validID(id) {
		return nil, errors.NotFound("document_version", id)
	}
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE id = $1 AND company_id = $2 FOR UPDATE`

	v, err := r.scanVersion(r.q.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document_version", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock document version")
	}
	return v, nil
}

// SetVersionStatus updates the lifecycle status of a version.
func (r *DocumentRepository) SetVersionStatus(ctx context.Context, companyID, id string, status DocumentStatus) error {
	if !validID(id) {
		return errors.NotFound("document_version", id)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE document_versions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, status)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update version status")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document_version", id)
	}
	return nil
}

// SetVersionArtifact replaces the file reference and revision notes.
func (r *DocumentRepository) SetVersionArtifact(ctx context.Context, companyID, id string, fileReference *string, revisionNotes string) error {
	if !validID(id) {
		return errors.NotFound("document_version", id)
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE document_versions
		SET file_reference = $3, revision_notes = $4, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID, fileReference, revisionNotes)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update version file")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("document_version", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) scanDocument(row documentScanner) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID,
		&doc.CompanyID,
		&doc.Code,
		&doc.Title,
		&doc.Type,
		&doc.DepartmentID,
		&doc.WorkflowID,
		&doc.Status,
		&doc.CurrentVersionID,
		&doc.CreatedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) scanVersion(row documentScanner) (*DocumentVersion, error) {
	v := &DocumentVersion{}
	err := row.Scan(
		&v.ID,
		&v.CompanyID,
		&v.DocumentID,
		&v.VersionNumber,
		&v.FileReference,
		&v.RevisionNotes,
		&v.Status,
		&v.CreatedBy,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}
