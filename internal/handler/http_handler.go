package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/repository"
	"github.com/pesio-ai/be-qms-documents/internal/service"
)

// Identity headers set by the gateway in front of the service.
const (
	HeaderCompanyID = "X-Company-ID"
	HeaderUserID    = "X-User-ID"
)

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	engine    *service.WorkflowEngine
	workflows *service.WorkflowDefinitionService
	documents *service.DocumentService
	tasks     *service.TaskService
	health    Pinger
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. health may be nil.
func NewHTTPHandler(
	engine *service.WorkflowEngine,
	workflows *service.WorkflowDefinitionService,
	documents *service.DocumentService,
	tasks *service.TaskService,
	health Pinger,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		workflows: workflows,
		documents: documents,
		tasks:     tasks,
		health:    health,
		log:       log.With("http_handler"),
	}
}

// Register mounts the routes on e.
func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api/v1")

	api.POST("/workflows", h.CreateWorkflow)
	api.GET("/workflows", h.ListWorkflows)
	api.GET("/workflows/:id", h.GetWorkflow)
	api.DELETE("/workflows/:id", h.DeleteWorkflow)

	api.POST("/documents", h.CreateDocument)
	api.GET("/documents", h.ListDocuments)
	api.GET("/documents/:id", h.GetDocument)
	api.PUT("/documents/:id/versions/:versionId/file", h.AttachFile)
	api.GET("/documents/:id/versions/:versionId/history", h.GetHistory)
	api.POST("/documents/:id/submit", h.Submit)
	api.POST("/documents/:id/resubmit", h.Resubmit)
	api.POST("/documents/:id/cancel", h.Cancel)

	api.GET("/tasks/inbox", h.ListInbox)
	api.GET("/tasks", h.ListOpenTasks)
	api.GET("/tasks/:id", h.GetTask)
	api.POST("/tasks/:id/approve", h.Approve)
	api.POST("/tasks/:id/reject", h.Reject)
}

// Health handles liveness and store connectivity checks.
func (h *HTTPHandler) Health(c echo.Context) error {
	if h.health != nil {
		if err := h.health.Ping(c.Request().Context()); err != nil {
			h.log.Warn().Err(err).Msg("health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Workflow definitions ─────────────────────────────────────────────────────

type createWorkflowBody struct {
	Name   string                    `json:"name"`
	Module string                    `json:"module"`
	Steps  []repository.WorkflowStep `json:"steps"`
}

// CreateWorkflow handles POST /workflows.
func (h *HTTPHandler) CreateWorkflow(c echo.Context) error {
	var body createWorkflowBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	wf, err := h.workflows.CreateWorkflow(c.Request().Context(), &service.CreateWorkflowRequest{
		CompanyID: companyID(c),
		Name:      body.Name,
		Module:    body.Module,
		Steps:     body.Steps,
		CreatedBy: userID(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toWorkflowView(wf))
}

// ListWorkflows handles GET /workflows?module=.
func (h *HTTPHandler) ListWorkflows(c echo.Context) error {
	wfs, err := h.workflows.ListWorkflows(c.Request().Context(), companyID(c), c.QueryParam("module"))
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]workflowView, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, toWorkflowView(wf))
	}
	return c.JSON(http.StatusOK, map[string]any{"workflows": out})
}

// GetWorkflow handles GET /workflows/:id.
func (h *HTTPHandler) GetWorkflow(c echo.Context) error {
	wf, err := h.workflows.GetWorkflow(c.Request().Context(), companyID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWorkflowView(wf))
}

// DeleteWorkflow handles DELETE /workflows/:id.
func (h *HTTPHandler) DeleteWorkflow(c echo.Context) error {
	if err := h.workflows.DeleteWorkflow(c.Request().Context(), companyID(c), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ── Documents ────────────────────────────────────────────────────────────────

type createDocumentBody struct {
	Code          string  `json:"code"`
	Title         string  `json:"title"`
	Type          string  `json:"type"`
	DepartmentID  *string `json:"department_id"`
	FileReference *string `json:"file_reference"`
	RevisionNotes string  `json:"revision_notes"`
}

// CreateDocument handles POST /documents.
func (h *HTTPHandler) CreateDocument(c echo.Context) error {
	var body createDocumentBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	doc, version, err := h.documents.CreateDocument(c.Request().Context(), &service.CreateDocumentRequest{
		CompanyID:     companyID(c),
		Code:          body.Code,
		Title:         body.Title,
		Type:          body.Type,
		DepartmentID:  body.DepartmentID,
		FileReference: body.FileReference,
		RevisionNotes: body.RevisionNotes,
		CreatedBy:     userID(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, documentDetailView{
		Document: toDocumentView(doc),
		Version:  toVersionView(version),
		History:  []historyView{},
	})
}

// ListDocuments handles GET /documents?status=&page=&page_size=.
func (h *HTTPHandler) ListDocuments(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	docs, total, err := h.documents.ListDocuments(c.Request().Context(), &service.ListDocumentsRequest{
		CompanyID: companyID(c),
		Status:    c.QueryParam("status"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		return h.fail(c, err)
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentView(d))
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": out, "total": total})
}

// GetDocument handles GET /documents/:id.
func (h *HTTPHandler) GetDocument(c echo.Context) error {
	detail, err := h.documents.GetDocument(c.Request().Context(), companyID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDetailView(detail))
}

type attachFileBody struct {
	FileReference string `json:"file_reference"`
	RevisionNotes string `json:"revision_notes"`
}

// AttachFile handles PUT /documents/:id/versions/:versionId/file.
func (h *HTTPHandler) AttachFile(c echo.Context) error {
	var body attachFileBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	version, err := h.documents.AttachFile(c.Request().Context(), &service.AttachFileRequest{
		CompanyID:     companyID(c),
		DocumentID:    c.Param("id"),
		VersionID:     c.Param("versionId"),
		ActorID:       userID(c),
		FileReference: body.FileReference,
		RevisionNotes: body.RevisionNotes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toVersionView(version))
}

// GetHistory handles GET /documents/:id/versions/:versionId/history.
func (h *HTTPHandler) GetHistory(c echo.Context) error {
	entries, err := h.documents.GetHistory(c.Request().Context(), companyID(c), c.Param("id"), c.Param("versionId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"history": toHistoryViews(entries)})
}

type submitBody struct {
	VersionID  string `json:"version_id"`
	WorkflowID string `json:"workflow_id"`
}

// Submit handles POST /documents/:id/submit.
func (h *HTTPHandler) Submit(c echo.Context) error {
	var body submitBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	res, err := h.engine.Submit(c.Request().Context(), service.SubmitRequest{
		CompanyID:  companyID(c),
		DocumentID: c.Param("id"),
		VersionID:  body.VersionID,
		WorkflowID: body.WorkflowID,
		AuthorID:   userID(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDecisionView(res))
}

type resubmitBody struct {
	VersionID string `json:"version_id"`
}

// Resubmit handles POST /documents/:id/resubmit.
func (h *HTTPHandler) Resubmit(c echo.Context) error {
	var body resubmitBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	res, err := h.engine.Resubmit(c.Request().Context(), service.ResubmitRequest{
		CompanyID:  companyID(c),
		DocumentID: c.Param("id"),
		VersionID:  body.VersionID,
		AuthorID:   userID(c),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDecisionView(res))
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /documents/:id/cancel.
func (h *HTTPHandler) Cancel(c echo.Context) error {
	var body cancelBody
	if err := c.Bind(&body); err != nil {
		return h.badBody(c, err)
	}
	res, err := h.engine.Cancel(c.Request().Context(), service.CancelRequest{
		CompanyID:  companyID(c),
		DocumentID: c.Param("id"),
		ActorID:    userID(c),
		Reason:     body.Reason,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDecisionView(res))
}

// ── Tasks ────────────────────────────────────────────────────────────────────

// ListInbox handles GET /tasks/inbox?roles=a,b. The user comes from the
// identity header.
func (h *HTTPHandler) ListInbox(c echo.Context) error {
	tasks, err := h.tasks.ListInbox(c.Request().Context(), companyID(c), userID(c), splitList(c.QueryParam("roles")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": toTaskViews(tasks)})
}

// ListOpenTasks handles GET /tasks?limit=.
func (h *HTTPHandler) ListOpenTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	tasks, err := h.tasks.ListOpen(c.Request().Context(), companyID(c), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": toTaskViews(tasks)})
}

// GetTask handles GET /tasks/:id.
func (h *HTTPHandler) GetTask(c echo.Context) error {
	task, err := h.tasks.GetTask(c.Request().Context(), companyID(c), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toTaskView(task))
}

type decisionBody struct {
	ActorRole string `json:"actor_role"`
	Notes     string `json:"notes"`
}

// Approve handles POST /tasks/:id/approve.
func (h *HTTPHandler) Approve(c echo.Context) error {
	req, err := h.decisionRequest(c)
	if err != nil {
		return h.badBody(c, err)
	}
	res, err := h.engine.Approve(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDecisionView(res))
}

// Reject handles POST /tasks/:id/reject.
func (h *HTTPHandler) Reject(c echo.Context) error {
	req, err := h.decisionRequest(c)
	if err != nil {
		return h.badBody(c, err)
	}
	res, err := h.engine.Reject(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toDecisionView(res))
}

func (h *HTTPHandler) decisionRequest(c echo.Context) (service.DecisionRequest, error) {
	var body decisionBody
	if err := c.Bind(&body); err != nil {
		return service.DecisionRequest{}, err
	}
	return service.DecisionRequest{
		CompanyID: companyID(c),
		TaskID:    c.Param("id"),
		ActorID:   userID(c),
		ActorRole: body.ActorRole,
		Notes:     body.Notes,
	}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func companyID(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(HeaderCompanyID))
}

func userID(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (h *HTTPHandler) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
	}
	return c.JSON(status, toErrorView(err))
}

func (h *HTTPHandler) badBody(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, errorView{
		Code:    string(errors.ErrCodeInvalidInput),
		Message: "invalid request body: " + err.Error(),
	})
}
