package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kiryzsuuu/call-agent/internal/audit"
	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/repository"
)

// SettingsHandler serves the agent configuration shared with the voice agent.
type SettingsHandler struct {
	settings repository.SettingsRepository
}

func NewSettingsHandler(settings repository.SettingsRepository) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

func (h *SettingsHandler) Register(r chi.Router) {
	r.Get("/config", h.Get)
	r.Post("/config", h.Replace)
}

// GET /config
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	data, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to read config", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// POST /config
func (h *SettingsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data map[string]any `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.settings.Replace(r.Context(), req.Data); err != nil {
		writeError(w, r, apperrors.Persistence(err))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventSettingsUpdate,
		Details: map[string]interface{}{"keys": len(req.Data)},
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
