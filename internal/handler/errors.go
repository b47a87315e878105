package handler

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-exp-expenses/pkg/errors"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeConflict:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(code errors.Code) codes.Code {
	switch code {
	case errors.ErrCodeInvalidInput:
		return codes.InvalidArgument
	case errors.ErrCodeConflict:
		return codes.FailedPrecondition
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeForbidden:
		return codes.PermissionDenied
	case errors.ErrCodeUnauthorized:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}

// publicError returns what may be shown to the client. Internal causes are
// logged, never returned.
func publicError(err error) errorResponse {
	var e *errors.Error
	if !errors.As(err, &e) || e.Code == errors.ErrCodeInternal {
		return errorResponse{Code: errors.ErrCodeInternal, Message: "internal server error"}
	}
	return errorResponse{Code: e.Code, Message: e.Message, Field: e.Field}
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	body := publicError(err)
	return status.Error(grpcCode(body.Code), body.Message)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
