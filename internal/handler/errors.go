package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-qms-documents/internal/errors"
)

// httpStatus maps an application error code to an HTTP status.
func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeWorkflowNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidWorkflow,
		errors.ErrCodeMissingArtifact, errors.ErrCodeMissingRejectionReason:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeTaskAlreadyClosed, errors.ErrCodePreconditionFailed, errors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// grpcCode maps an application error code to a gRPC status code.
func grpcCode(err error) codes.Code {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeWorkflowNotFound:
		return codes.NotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidWorkflow,
		errors.ErrCodeMissingArtifact, errors.ErrCodeMissingRejectionReason:
		return codes.InvalidArgument
	case errors.ErrCodeUnauthorized:
		return codes.PermissionDenied
	case errors.ErrCodeTaskAlreadyClosed:
		return codes.Aborted
	case errors.ErrCodePreconditionFailed:
		return codes.FailedPrecondition
	case errors.ErrCodeConflict:
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	code := grpcCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func toErrorView(err error) errorView {
	view := errorView{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var coded *errors.Error
	if errors.As(err, &coded) {
		view.Message = coded.Message
		view.Field = coded.Field
	}
	if view.Code == string(errors.ErrCodeInternal) {
		view.Message = "internal error"
	}
	return view
}
