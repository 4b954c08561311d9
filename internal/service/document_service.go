package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
)

// initialVersion is the version number of a newly created document.
const initialVersion = "1.0"

// DocumentService handles document records. It never changes a document's
// status; that is the workflow engine's job.
type DocumentService struct {
	store repository.Store
	log   *logger.Logger
}

// NewDocumentService creates a new document service
func NewDocumentService(store repository.Store, log *logger.Logger) *DocumentService {
	return &DocumentService{store: store, log: log}
}

// CreateDocumentRequest represents a create document request
type CreateDocumentRequest struct {
	CompanyID     string
	Code          string
	Title         string
	Type          string
	DepartmentID  *string
	FileReference *string
	RevisionNotes string
	CreatedBy     string
}

// AttachFileRequest replaces the file of a version that is being edited.
type AttachFileRequest struct {
	CompanyID     string
	DocumentID    string
	VersionID     string
	ActorID       string
	FileReference string
	RevisionNotes string
}

// ListDocumentsRequest represents a paged document listing
type ListDocumentsRequest struct {
	CompanyID string
	Status    string
	Page      int
	PageSize  int
}

// DocumentDetail is a document with its current version, that version's
// history and its open task.
type DocumentDetail struct {
	Document *repository.Document
	Version  *repository.DocumentVersion
	History  []*repository.HistoryEntry
	OpenTask *repository.Task
}

// CreateDocument creates a draft document with version 1.0.
func (s *DocumentService) CreateDocument(ctx context.Context, req *CreateDocumentRequest) (*repository.Document, *repository.DocumentVersion, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	docType := strings.ToLower(strings.TrimSpace(req.Type))

	switch {
	case strings.TrimSpace(req.CompanyID) == "":
		return nil, nil, errors.InvalidInput("company_id", "is required")
	case code == "":
		return nil, nil, errors.InvalidInput("code", "document code is required")
	case strings.TrimSpace(req.Title) == "":
		return nil, nil, errors.InvalidInput("title", "title is required")
	case !repository.DocumentTypes[docType]:
		return nil, nil, errors.InvalidInput("type", "invalid document type")
	case strings.TrimSpace(req.CreatedBy) == "":
		return nil, nil, errors.InvalidInput("created_by", "author is required")
	}

	doc := &repository.Document{
		CompanyID:    req.CompanyID,
		Code:         code,
		Title:        strings.TrimSpace(req.Title),
		Type:         docType,
		DepartmentID: req.DepartmentID,
		Status:       repository.StatusDraft,
		CreatedBy:    req.CreatedBy,
	}
	version := &repository.DocumentVersion{
		VersionNumber: initialVersion,
		FileReference: nonEmpty(req.FileReference),
		RevisionNotes: req.RevisionNotes,
		Status:        repository.StatusDraft,
		CreatedBy:     req.CreatedBy,
	}

	if err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		return tx.CreateDocument(ctx, doc, version)
	}); err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("company_id", doc.CompanyID).
		Str("document_id", doc.ID).
		Str("code", doc.Code).
		Msg("Document created")

	return doc, version, nil
}

// AttachFile sets the file reference of a draft or revision version. Only the
// version author may do so.
func (s *DocumentService) AttachFile(ctx context.Context, req *AttachFileRequest) (*repository.DocumentVersion, error) {
	if strings.TrimSpace(req.FileReference) == "" {
		return nil, errors.InvalidInput("file_reference", "file reference is required")
	}

	var version *repository.DocumentVersion
	err := s.store.InTransaction(ctx, func(tx repository.Tx) error {
		doc, err := tx.LockDocument(ctx, req.CompanyID, req.DocumentID)
		if err != nil {
			return err
		}
		if doc.Status != repository.StatusDraft && doc.Status != repository.StatusRevision {
			return errors.Newf(errors.ErrCodePreconditionFailed,
				"cannot change the file of document %s in status %s", doc.Code, doc.Status)
		}
		v, err := tx.LockVersion(ctx, req.CompanyID, req.VersionID)
		if err != nil {
			return err
		}
		if v.DocumentID != doc.ID {
			return errors.InvalidInput("version_id", "version does not belong to the document")
		}
		if v.CreatedBy != req.ActorID {
			return errors.New(errors.ErrCodeUnauthorized, "only the version author can attach files")
		}

		ref := strings.TrimSpace(req.FileReference)
		if err := tx.SetVersionArtifact(ctx, req.CompanyID, v.ID, &ref, req.RevisionNotes); err != nil {
			return err
		}
		v.FileReference = &ref
		v.RevisionNotes = req.RevisionNotes
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("company_id", req.CompanyID).
		Str("document_id", req.DocumentID).
		Str("version_id", req.VersionID).
		Msg("File attached to document version")

	return version, nil
}

// GetDocument returns the document detail view.
func (s *DocumentService) GetDocument(ctx context.Context, companyID, id string) (*DocumentDetail, error) {
	doc, err := s.store.GetDocument(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	detail := &DocumentDetail{Document: doc, History: []*repository.HistoryEntry{}}
	if doc.CurrentVersionID == nil {
		return detail, nil
	}

	if detail.Version, err = s.store.GetVersion(ctx, companyID, *doc.CurrentVersionID); err != nil {
		return nil, err
	}
	if detail.History, err = s.store.ListHistory(ctx, companyID, detail.Version.ID); err != nil {
		return nil, err
	}
	if detail.OpenTask, err = s.store.GetOpenTask(ctx, companyID, doc.ID, detail.Version.ID); err != nil {
		return nil, err
	}
	return detail, nil
}

// ListDocuments lists a company's documents a page at a time.
func (s *DocumentService) ListDocuments(ctx context.Context, req *ListDocumentsRequest) ([]*repository.Document, int64, error) {
	if strings.TrimSpace(req.CompanyID) == "" {
		return nil, 0, errors.InvalidInput("company_id", "is required")
	}

	filter := repository.DocumentFilter{CompanyID: req.CompanyID}
	if req.Status != "" {
		status := repository.DocumentStatus(strings.ToLower(req.Status))
		switch status {
		case repository.StatusDraft, repository.StatusPendingApproval, repository.StatusPublished,
			repository.StatusRevision, repository.StatusCanceled:
		default:
			return nil, 0, errors.InvalidInput("status", "invalid document status")
		}
		filter.Status = &status
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	page := max(req.Page, 1)
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	return s.store.ListDocuments(ctx, filter)
}

// GetHistory returns the approval history of a version of documentID, oldest
// first.
func (s *DocumentService) GetHistory(ctx context.Context, companyID, documentID, versionID string) ([]*repository.HistoryEntry, error) {
	version, err := s.store.GetVersion(ctx, companyID, versionID)
	if err != nil {
		return nil, err
	}
	if version.DocumentID != documentID {
		return nil, errors.NotFound("document_version", versionID)
	}
	return s.store.ListHistory(ctx, companyID, versionID)
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
