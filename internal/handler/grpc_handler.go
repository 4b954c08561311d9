package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-qms-documents/internal/logger"
	"github.com/pesio-ai/be-qms-documents/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qms.documents.v1.WorkflowService"

// WorkflowServiceServer is the gRPC surface of the workflow engine. Messages
// are google.protobuf.Struct values carrying the same fields as the HTTP API.
type WorkflowServiceServer interface {
	SubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ApproveTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RejectTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListInbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetWorkflow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryMethod(
	name string,
	call func(WorkflowServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkflowServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// WorkflowServiceDesc describes WorkflowServiceServer for grpc.Server.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitDocument", WorkflowServiceServer.SubmitDocument),
		unaryMethod("ResubmitDocument", WorkflowServiceServer.ResubmitDocument),
		unaryMethod("CancelDocument", WorkflowServiceServer.CancelDocument),
		unaryMethod("ApproveTask", WorkflowServiceServer.ApproveTask),
		unaryMethod("RejectTask", WorkflowServiceServer.RejectTask),
		unaryMethod("GetDocument", WorkflowServiceServer.GetDocument),
		unaryMethod("ListInbox", WorkflowServiceServer.ListInbox),
		unaryMethod("GetWorkflow", WorkflowServiceServer.GetWorkflow),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qms/documents/v1/workflow.proto",
}

// GRPCHandler implements WorkflowServiceServer
type GRPCHandler struct {
	engine    *service.WorkflowEngine
	workflows *service.WorkflowDefinitionService
	documents *service.DocumentService
	tasks     *service.TaskService
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(
	engine *service.WorkflowEngine,
	workflows *service.WorkflowDefinitionService,
	documents *service.DocumentService,
	tasks *service.TaskService,
	log *logger.Logger,
) *GRPCHandler {
	return &GRPCHandler{
		engine:    engine,
		workflows: workflows,
		documents: documents,
		tasks:     tasks,
		log:       log.With("grpc_handler"),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&WorkflowServiceDesc, h)
}

// SubmitDocument starts the approval cycle of a draft.
func (h *GRPCHandler) SubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.engine.Submit(ctx, service.SubmitRequest{
		CompanyID:  str(req, "company_id"),
		DocumentID: str(req, "document_id"),
		VersionID:  str(req, "version_id"),
		WorkflowID: str(req, "workflow_id"),
		AuthorID:   str(req, "actor_id"),
	})
	return h.reply(toDecisionViewOrNil(res), err)
}

// ResubmitDocument restarts the workflow after a rejection.
func (h *GRPCHandler) ResubmitDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.engine.Resubmit(ctx, service.ResubmitRequest{
		CompanyID:  str(req, "company_id"),
		DocumentID: str(req, "document_id"),
		VersionID:  str(req, "version_id"),
		AuthorID:   str(req, "actor_id"),
	})
	return h.reply(toDecisionViewOrNil(res), err)
}

// CancelDocument withdraws a document from its workflow.
func (h *GRPCHandler) CancelDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.engine.Cancel(ctx, service.CancelRequest{
		CompanyID:  str(req, "company_id"),
		DocumentID: str(req, "document_id"),
		ActorID:    str(req, "actor_id"),
		Reason:     str(req, "reason"),
	})
	return h.reply(toDecisionViewOrNil(res), err)
}

// ApproveTask records an approval against an open step task.
func (h *GRPCHandler) ApproveTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.engine.Approve(ctx, decisionFromStruct(req))
	return h.reply(toDecisionViewOrNil(res), err)
}

// RejectTask records a rejection against an open step task.
func (h *GRPCHandler) RejectTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.engine.Reject(ctx, decisionFromStruct(req))
	return h.reply(toDecisionViewOrNil(res), err)
}

// GetDocument returns a document with its current version, history and open task.
func (h *GRPCHandler) GetDocument(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	detail, err := h.documents.GetDocument(ctx, str(req, "company_id"), str(req, "document_id"))
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(toDetailView(detail), nil)
}

// ListInbox returns the open tasks of a user and their roles.
func (h *GRPCHandler) ListInbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var roles []string
	for _, v := range req.GetFields()["roles"].GetListValue().GetValues() {
		if r := v.GetStringValue(); r != "" {
			roles = append(roles, r)
		}
	}
	tasks, err := h.tasks.ListInbox(ctx, str(req, "company_id"), str(req, "actor_id"), roles)
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(map[string]any{"tasks": toTaskViews(tasks)}, nil)
}

// GetWorkflow returns a workflow definition.
func (h *GRPCHandler) GetWorkflow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	wf, err := h.workflows.GetWorkflow(ctx, str(req, "company_id"), str(req, "workflow_id"))
	if err != nil {
		return h.reply(nil, err)
	}
	return h.reply(toWorkflowView(wf), nil)
}

func (h *GRPCHandler) reply(view any, err error) (*structpb.Struct, error) {
	if err != nil {
		if grpcCode(err) == codes.Internal {
			h.log.Error().Err(err).Msg("grpc request failed")
		}
		return nil, mapErrorToGRPC(err)
	}
	out, err := toStruct(view)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func toDecisionViewOrNil(res *service.DecisionResult) any {
	if res == nil {
		return nil
	}
	return toDecisionView(res)
}

func decisionFromStruct(req *structpb.Struct) service.DecisionRequest {
	return service.DecisionRequest{
		CompanyID: str(req, "company_id"),
		TaskID:    str(req, "task_id"),
		ActorID:   str(req, "actor_id"),
		ActorRole: str(req, "actor_role"),
		Notes:     str(req, "notes"),
	}
}

func str(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

// UnaryLogger logs every unary call with its status code and latency.
func UnaryLogger(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("latency", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}
