package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/filter"
	"github.com/teilomillet/quill/server/validation"
)

// FilterHandler exposes the filter catalog.
type FilterHandler struct {
	catalog *filter.Catalog
	logger  *zap.Logger
}

// NewFilterHandler creates a handler for catalog.
func NewFilterHandler(catalog *filter.Catalog, logger *zap.Logger) *FilterHandler {
	return &FilterHandler{catalog: catalog, logger: logger}
}

type filterView struct {
	filter.Definition
	DisplayName string `json:"display_name"`
}

func view(d filter.Definition) filterView {
	return filterView{Definition: d, DisplayName: d.DisplayName()}
}

// List returns all filters sorted by name. ?enabled=true keeps only enabled
// ones.
func (h *FilterHandler) List(w http.ResponseWriter, r *http.Request) {
	defs := h.catalog.All()
	if v := r.URL.Query().Get("enabled"); v != "" {
		only, err := strconv.ParseBool(v)
		if err != nil {
			errors.WriteError(w, errors.NewValidationError(requestID(r), "enabled must be a boolean",
				map[string]interface{}{"value": v}))
			return
		}
		if only {
			defs = h.catalog.Enabled()
		}
	}

	out := make([]filterView, len(defs))
	for i, d := range defs {
		out[i] = view(d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"filters": out, "count": len(out)})
}

// Get returns one filter.
func (h *FilterHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, ok := h.catalog.Get(name)
	if !ok {
		errors.WriteError(w, lookupError(requestID(r), fmt.Errorf("%w: %s", filter.ErrNotFound, name)))
		return
	}
	writeJSON(w, http.StatusOK, view(def))
}

// SetEnabled toggles a filter and persists the catalog.
func (h *FilterHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	var body validation.FilterToggle
	if err := validation.Decode(w, r, reqID, &body); err != nil {
		errors.WriteError(w, err)
		return
	}

	def, err := h.catalog.SetEnabled(chi.URLParam(r, "name"), *body.Enabled)
	if err != nil {
		errors.WriteError(w, h.saveError(reqID, def, err))
		return
	}
	writeJSON(w, http.StatusOK, view(def))
}

// Create adds or replaces a custom filter.
func (h *FilterHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	var body validation.FilterCreate
	if err := validation.Decode(w, r, reqID, &body); err != nil {
		errors.WriteError(w, err)
		return
	}

	def, err := h.catalog.Add(body.Name, body.Prompt, body.Emoji, body.Color)
	if err != nil {
		errors.WriteError(w, h.saveError(reqID, def, err))
		return
	}
	writeJSON(w, http.StatusCreated, view(def))
}

// Delete removes a filter.
func (h *FilterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	name := chi.URLParam(r, "name")

	existed, err := h.catalog.Remove(name)
	if !existed {
		errors.WriteError(w, lookupError(reqID, fmt.Errorf("%w: %s", filter.ErrNotFound, name)))
		return
	}
	if err != nil {
		errors.WriteError(w, h.saveError(reqID, filter.Definition{Name: name}, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload rereads the filters file.
func (h *FilterHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Reload(); err != nil {
		errors.LogError(h.logger, err, requestID(r))
		errors.WriteError(w, errors.NewInternalError(requestID(r), err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": h.catalog.Len()})
}

// saveError separates lookup failures from a catalog that changed in memory
// but could not be persisted.
func (h *FilterHandler) saveError(reqID string, def filter.Definition, err error) *errors.QuillError {
	if def.Name == "" {
		return lookupError(reqID, err)
	}
	h.logger.Error("failed to persist filters",
		zap.String("filter", def.Name),
		zap.String("request_id", reqID),
		zap.Error(err),
	)
	return errors.NewInternalError(reqID, err)
}
