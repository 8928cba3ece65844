package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/transform"
	"github.com/teilomillet/quill/server/validation"
)

// TransformHandler serves POST /v1/transform and POST /v1/history.
type TransformHandler struct {
	orch   *transform.Orchestrator
	logger *zap.Logger
}

// NewTransformHandler creates a handler backed by orch.
func NewTransformHandler(orch *transform.Orchestrator, logger *zap.Logger) *TransformHandler {
	return &TransformHandler{orch: orch, logger: logger}
}

// Transform queues the message and waits for its result within the
// request deadline.
func (h *TransformHandler) Transform(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	var body validation.TransformRequest
	if err := validation.Decode(w, r, reqID, &body); err != nil {
		errors.WriteError(w, err)
		return
	}

	future, err := h.orch.TransformByName(body.Identity, body.Message, body.Filter)
	if err != nil {
		errors.WriteError(w, lookupError(reqID, err))
		return
	}

	res, err := future.Wait(r.Context())
	if err != nil {
		errors.WriteError(w, waitError(h.logger, reqID, err))
		return
	}

	h.logger.Debug("transformation served",
		zap.String("request_id", reqID),
		zap.String("identity", body.Identity),
		zap.String("filter", res.Filter),
		zap.String("outcome", string(res.Outcome)),
	)
	writeJSON(w, resultStatus(res), res)
}

// History records a message seen while filtering was off.
func (h *TransformHandler) History(w http.ResponseWriter, r *http.Request) {
	var body validation.HistoryRequest
	if err := validation.Decode(w, r, requestID(r), &body); err != nil {
		errors.WriteError(w, err)
		return
	}
	h.orch.RecordHistory(body.Identity, body.Message, body.Transformed)
	w.WriteHeader(http.StatusNoContent)
}
