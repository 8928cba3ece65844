// Package handlers provides the HTTP and websocket handlers of the quill
// server. Handlers decode and validate requests, hand them to the
// transformation orchestrator or the filter catalog, and write JSON
// responses. Every error goes through errors.WriteError with the request ID.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/middleware"
	"github.com/teilomillet/quill/server/transform"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// resultStatus maps a transformation result to an HTTP status. Fallbacks
// still carry a usable message and are served as 200.
func resultStatus(res transform.Result) int {
	if res.Outcome != transform.OutcomeFailed {
		return http.StatusOK
	}
	switch res.Cause {
	case errors.Timeout:
		return http.StatusGatewayTimeout
	case errors.NoCredentials, errors.CircuitOpen, errors.Overloaded, errors.Interrupted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// lookupError converts catalog and assignment failures into API errors.
func lookupError(reqID string, err error) *errors.QuillError {
	switch {
	case stderrors.Is(err, filter.ErrNotFound):
		return errors.NewNotFoundError(reqID, err.Error())
	case stderrors.Is(err, transform.ErrFilterDisabled), stderrors.Is(err, assign.ErrFilterDisabled),
		stderrors.Is(err, assign.ErrNoFilter), stderrors.Is(err, assign.ErrRerollUnsupported):
		return errors.NewConflictError(reqID, err.Error())
	case stderrors.Is(err, filter.ErrInvalid), stderrors.Is(err, transform.ErrFilterRequired),
		stderrors.Is(err, assign.ErrInvalidMode):
		return errors.NewValidationError(reqID, err.Error(), nil)
	default:
		return errors.NewInternalError(reqID, err)
	}
}

// waitError converts an abandoned wait into an API error and logs it.
func waitError(logger *zap.Logger, reqID string, err error) *errors.QuillError {
	qerr := errors.FromContext(err)
	qerr.RequestID = reqID
	if stderrors.Is(err, context.DeadlineExceeded) {
		errors.LogError(logger, qerr, reqID)
	}
	return qerr
}
