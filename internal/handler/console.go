package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/audit"
	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/service"
)

const consoleCookiePath = "/console"

// ConsoleHandler is the staff console API. Login and logout are public; the
// rest runs behind the staff session and CSRF middlewares.
type ConsoleHandler struct {
	staff        *service.StaffService
	calls        *service.CallLogService
	relay        *service.ChatRelayService
	isProduction bool
}

func NewConsoleHandler(
	staff *service.StaffService,
	calls *service.CallLogService,
	relay *service.ChatRelayService,
	isProduction bool,
) *ConsoleHandler {
	return &ConsoleHandler{
		staff:        staff,
		calls:        calls,
		relay:        relay,
		isProduction: isProduction,
	}
}

// RegisterProtected mounts the routes that need a staff session.
func (h *ConsoleHandler) RegisterProtected(r chi.Router) {
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	r.Get("/stats", h.Stats)
	r.Get("/sessions", h.ListSessions)
	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Get("/takeover-requests", h.ListTakeoverRequests)
	r.Post("/takeover", h.Takeover)
	r.Post("/chat", h.Chat)
	r.Post("/edit-transcript", h.EditTranscript)
	r.Post("/close-call", h.CloseCall)
}

// POST /console/api/login
func (h *ConsoleHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	token, session, err := h.staff.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeUnauthorized) {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventLoginFailure,
				StaffName: strings.TrimSpace(req.Username),
			})
		}
		writeError(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, middleware.StaffSessionCookie, token, consoleCookiePath, h.isProduction)
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLoginSuccess,
		StaffName: session.StaffName,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"user": consoleUser(session),
	})
}

// POST /console/api/logout
func (h *ConsoleHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.StaffSessionCookie); err == nil && cookie.Value != "" {
		if err := h.staff.Logout(r.Context(), cookie.Value); err != nil {
			log.Warn().Err(err).Msg("failed to delete staff session")
		}
	}
	middleware.ClearSessionCookie(w, middleware.StaffSessionCookie, consoleCookiePath)

	event := audit.Event{Type: audit.EventLogout}
	if session := middleware.GetStaffSession(r.Context()); session != nil {
		event.StaffName = session.StaffName
	}
	audit.LogFromRequest(r, event)

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /console/api/me
func (h *ConsoleHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user": consoleUser(middleware.GetStaffSession(r.Context())),
	})
}

func consoleUser(session *model.StaffSession) any {
	if session == nil {
		return nil
	}
	return map[string]any{
		"username":   session.StaffName,
		"expires_at": session.ExpiresAt,
	}
}

// GET /console/api/stats
func (h *ConsoleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.staff.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /console/api/sessions?status=
func (h *ConsoleHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	filter := model.CallLogFilter{Status: model.SessionStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, apperrors.InvalidInput("status", string(filter.Status)))
		return
	}

	sessions, err := h.calls.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": paginate(sessions, ParsePagination(r)),
		"total":    len(sessions),
	})
}

// GET /console/api/sessions/{sessionID}
func (h *ConsoleHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.calls.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /console/api/takeover-requests
func (h *ConsoleHandler) ListTakeoverRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.calls.ListTakeoverRequests(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

// POST /console/api/takeover
func (h *ConsoleHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetStaffSession(r.Context())
	if session == nil {
		writeError(w, r, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.calls.TakeOver(r.Context(), req.SessionID, session.StaffName, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventTakeover,
		StaffName: session.StaffName,
		SessionID: rec.SessionID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"status":     rec.Status,
		"staff_name": rec.StaffName,
	})
}

// POST /console/api/chat
func (h *ConsoleHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, apperrors.MissingRequired("message"))
		return
	}

	delivery, err := h.relay.SendChatMessage(r.Context(), req.SessionID, model.SenderStaff, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   delivery.Message,
		"delivered": delivery.Forwarded,
	})
}

// POST /console/api/edit-transcript
func (h *ConsoleHandler) EditTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		ItemID    string `json:"item_id"`
		NewText   string `json:"new_text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.calls.EditMessage(r.Context(), req.SessionID, req.ItemID, req.NewText); err != nil {
		writeError(w, r, err)
		return
	}

	event := audit.Event{
		Type:      audit.EventMessageEdit,
		SessionID: req.SessionID,
		Details:   map[string]interface{}{"item_id": req.ItemID},
	}
	if session := middleware.GetStaffSession(r.Context()); session != nil {
		event.StaffName = session.StaffName
	}
	audit.LogFromRequest(r, event)
	writeSuccess(w, "Transcript updated")
}

// POST /console/api/close-call
func (h *ConsoleHandler) CloseCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.calls.CloseSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Call closed",
		"end_time": rec.EndTime,
	})
}
