package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/assign"
	"github.com/teilomillet/quill/server/validation"
)

const maxIdentityLen = 128

// IdentityHandler exposes filter assignment: the mode and the per-identity
// state.
type IdentityHandler struct {
	assigner *assign.Assigner
	logger   *zap.Logger
}

// NewIdentityHandler creates a handler for assigner.
func NewIdentityHandler(assigner *assign.Assigner, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{assigner: assigner, logger: logger}
}

type modeView struct {
	Mode        assign.Mode `json:"mode"`
	Description string      `json:"description"`
}

func (h *IdentityHandler) modeView() modeView {
	m := h.assigner.Mode()
	return modeView{Mode: m, Description: m.Description()}
}

// Mode returns the current assignment mode.
func (h *IdentityHandler) Mode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.modeView())
}

// SetMode switches the assignment mode until the next config reload.
func (h *IdentityHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	var body validation.ModeUpdate
	if err := validation.Decode(w, r, reqID, &body); err != nil {
		errors.WriteError(w, err)
		return
	}
	mode, err := assign.ParseMode(body.Mode)
	if err != nil {
		errors.WriteError(w, lookupError(reqID, err))
		return
	}
	h.assigner.SetMode(mode)
	writeJSON(w, http.StatusOK, h.modeView())
}

// UnpinAll removes every pinned filter.
func (h *IdentityHandler) UnpinAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unpinned": h.assigner.UnpinAll()})
}

// List returns every known identity.
func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.assigner.All()
	writeJSON(w, http.StatusOK, map[string]interface{}{"identities": all, "count": len(all)})
}

// Get returns one identity. Unknown identities report the defaults.
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.assigner.Stats(id))
}

// Update pins or unpins a filter and toggles the identity's flags.
func (h *IdentityHandler) Update(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body validation.IdentityUpdate
	if err := validation.Decode(w, r, reqID, &body); err != nil {
		errors.WriteError(w, err)
		return
	}

	if body.Filter != nil {
		if strings.TrimSpace(*body.Filter) == "" {
			h.assigner.Unpin(id)
		} else if _, err := h.assigner.Pin(id, *body.Filter); err != nil {
			errors.WriteError(w, lookupError(reqID, err))
			return
		}
	}
	if body.Enabled != nil {
		h.assigner.SetEnabled(id, *body.Enabled)
	}
	if body.ModelAllowed != nil {
		h.assigner.SetModelAllowed(id, *body.ModelAllowed)
	}
	stats := h.assigner.Stats(id)
	h.logger.Debug("identity updated",
		zap.String("request_id", reqID),
		zap.String("identity", id),
		zap.String("filter", stats.Filter),
		zap.Bool("enabled", stats.Enabled),
		zap.Bool("model_allowed", stats.ModelAllowed),
	)
	writeJSON(w, http.StatusOK, stats)
}

// Reroll draws a new daily or session filter for the identity.
func (h *IdentityHandler) Reroll(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if _, err := h.assigner.Reroll(id); err != nil {
		errors.WriteError(w, lookupError(reqID, err))
		return
	}
	writeJSON(w, http.StatusOK, h.assigner.Stats(id))
}

// EndSession forgets the identity's session pick.
func (h *IdentityHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	h.assigner.EndSession(id)
	w.WriteHeader(http.StatusNoContent)
}

// Delete drops all state of the identity.
func (h *IdentityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	if !h.assigner.Forget(id) {
		errors.WriteError(w, errors.NewNotFoundError(requestID(r), "identity not found: "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IdentityHandler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "identity")
	if strings.TrimSpace(id) == "" || len(id) > maxIdentityLen {
		errors.WriteError(w, errors.NewValidationError(requestID(r), "invalid identity",
			map[string]interface{}{"identity": id}))
		return "", false
	}
	return id, true
}
