package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
)

func TestCreateDocument(t *testing.T) {
	f := newFixture(t, roleGate{})
	ctx := context.Background()

	ref := "  files/wi-7.pdf "
	doc, version, err := f.documents.CreateDocument(ctx, &CreateDocumentRequest{
		CompanyID:     company,
		Code:          " wi-7 ",
		Title:         "Calibration",
		Type:          "Instruction",
		FileReference: &ref,
		RevisionNotes: "initial",
		CreatedBy:     author,
	})
	require.NoError(t, err)
	assert.Equal(t, "WI-7", doc.Code)
	assert.Equal(t, "instruction", doc.Type)
	assert.Equal(t, repository.StatusDraft, doc.Status)
	assert.Equal(t, "1.0", version.VersionNumber)
	assert.Equal(t, "files/wi-7.pdf", *version.FileReference)
	require.NotNil(t, doc.CurrentVersionID)
	assert.Equal(t, version.ID, *doc.CurrentVersionID)

	_, _, err = f.documents.CreateDocument(ctx, &CreateDocumentRequest{
		CompanyID: company, Code: "WI-7", Title: "Dup", Type: "form", CreatedBy: author,
	})
	assertCode(t, err, errors.ErrCodeConflict)

	_, _, err = f.documents.CreateDocument(ctx, &CreateDocumentRequest{
		CompanyID: company, Code: "X", Title: "Bad", Type: "memo", CreatedBy: author,
	})
	assertCode(t, err, errors.ErrCodeInvalidInput)
}

func TestAttachFile(t *testing.T) {
	f := newFixture(t, roleGate{})
	ctx := context.Background()
	wf := f.workflow(t, "role_qa")
	doc, version := f.draft(t, "SOP-020", false)

	_, err := f.documents.AttachFile(ctx, &AttachFileRequest{
		CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, ActorID: "someone-else", FileReference: "f.pdf",
	})
	assertCode(t, err, errors.ErrCodeUnauthorized)

	_, err = f.documents.AttachFile(ctx, &AttachFileRequest{
		CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, ActorID: author, FileReference: " ",
	})
	assertCode(t, err, errors.ErrCodeInvalidInput)

	updated, err := f.documents.AttachFile(ctx, &AttachFileRequest{
		CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, ActorID: author,
		FileReference: "files/sop-020.pdf", RevisionNotes: "first draft",
	})
	require.NoError(t, err)
	assert.True(t, updated.HasArtifact())

	task := f.submit(t, doc, version, wf).NextTask

	_, err = f.documents.AttachFile(ctx, &AttachFileRequest{
		CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, ActorID: author, FileReference: "other.pdf",
	})
	assertCode(t, err, errors.ErrCodePreconditionFailed)

	f.reject(t, task, "missing section 4")
	_, err = f.documents.AttachFile(ctx, &AttachFileRequest{
		CompanyID: company, DocumentID: doc.ID, VersionID: version.ID, ActorID: author,
		FileReference: "files/sop-020-r2.pdf", RevisionNotes: "added section 4",
	})
	require.NoError(t, err)

	status, _ := f.status(t, doc, version)
	assert.Equal(t, repository.StatusRevision, status)
}

func TestGetDocumentDetail(t *testing.T) {
	f := newFixture(t, roleGate{})
	ctx := context.Background()
	wf := f.workflow(t, "role_qa", "role_mgr")
	doc, version := f.draft(t, "SOP-021", true)
	f.approve(t, f.submit(t, doc, version, wf).NextTask)

	detail, err := f.documents.GetDocument(ctx, company, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPendingApproval, detail.Document.Status)
	assert.Equal(t, version.ID, detail.Version.ID)
	assert.Len(t, detail.History, 1)
	require.NotNil(t, detail.OpenTask)
	assert.Equal(t, 2, detail.OpenTask.WorkflowStepNumber)

	history, err := f.documents.GetHistory(ctx, company, doc.ID, version.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	other, _ := f.draft(t, "SOP-022", true)
	_, err = f.documents.GetHistory(ctx, company, other.ID, version.ID)
	assertCode(t, err, errors.ErrCodeNotFound)

	_, err = f.documents.GetDocument(ctx, "other-company", doc.ID)
	assertCode(t, err, errors.ErrCodeNotFound)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t, roleGate{})
	ctx := context.Background()
	wf := f.workflow(t, "role_qa")
	for _, code := range []string{"A", "B", "C"} {
		f.draft(t, code, true)
	}
	doc, version := f.draft(t, "D", true)
	f.submit(t, doc, version, wf)

	all, total, err := f.documents.ListDocuments(ctx, &ListDocumentsRequest{CompanyID: company})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.EqualValues(t, 4, total)

	page, total, err := f.documents.ListDocuments(ctx, &ListDocumentsRequest{CompanyID: company, Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.EqualValues(t, 4, total)

	pending, total, err := f.documents.ListDocuments(ctx, &ListDocumentsRequest{CompanyID: company, Status: "pending_approval"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "D", pending[0].Code)
	assert.EqualValues(t, 1, total)

	_, _, err = f.documents.ListDocuments(ctx, &ListDocumentsRequest{CompanyID: company, Status: "archived"})
	assertCode(t, err, errors.ErrCodeInvalidInput)
}
