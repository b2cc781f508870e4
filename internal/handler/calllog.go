package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/service"
	"github.com/Kiryzsuuu/call-agent/internal/util"
)

// CallLogHandler exposes the session log to the voice agent, the dashboard
// and the other internal services.
type CallLogHandler struct {
	calls  *service.CallLogService
	orders *service.OrderService
	relay  *service.ChatRelayService
}

func NewCallLogHandler(
	calls *service.CallLogService,
	orders *service.OrderService,
	relay *service.ChatRelayService,
) *CallLogHandler {
	return &CallLogHandler{
		calls:  calls,
		orders: orders,
		relay:  relay,
	}
}

func (h *CallLogHandler) Register(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Post("/log-conversation", h.LogConversation)
	r.Get("/call-logs", h.ListCallLogs)
	r.Get("/call-logs/{sessionID}", h.GetCallLog)
	r.Get("/active-sessions", h.ListActiveSessions)
	r.Get("/staff-takeover-requests", h.ListTakeoverRequests)
	r.Post("/request-staff-takeover", h.RequestTakeover)
	r.Post("/staff-takeover", h.StaffTakeover)
	r.Post("/set-status", h.SetStatus)
	r.Post("/send-chat-message", h.SendChatMessage)
	r.Post("/close-call", h.CloseCall)
	r.Post("/edit-transcript", h.EditTranscript)
	r.Post("/confirm-order", h.ConfirmOrder)
}

// POST /sessions
func (h *CallLogHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	rec, created, err := h.calls.StartSession(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"success":    true,
		"session_id": rec.SessionID,
		"created":    created,
		"start_time": rec.StartTime,
	})
}

type logConversationRequest struct {
	SessionID       string `json:"session_id"`
	ParticipantType string `json:"participant_type"`
	Message         string `json:"message"`
	Timestamp       string `json:"timestamp"`
	Result          string `json:"result"`
	Status          string `json:"status"`
}

// POST /log-conversation
func (h *CallLogHandler) LogConversation(w http.ResponseWriter, r *http.Request) {
	var req logConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, r, apperrors.MissingRequired("session_id"))
		return
	}
	if req.ParticipantType == "" {
		writeError(w, r, apperrors.MissingRequired("participant_type"))
		return
	}

	params := service.AppendParams{
		SessionID: req.SessionID,
		Type:      model.MessageType(req.ParticipantType),
		Text:      req.Message,
		Result:    req.Result,
		Status:    model.SessionStatus(req.Status),
	}
	if req.Timestamp != "" {
		ts, err := util.ParseTimestamp(req.Timestamp)
		if err != nil {
			writeError(w, r, apperrors.InvalidInput("timestamp", err.Error()))
			return
		}
		params.Timestamp = &ts
	}

	ctx := r.Context()
	res, err := h.calls.AppendMessage(ctx, params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := map[string]any{
		"success":           true,
		"message_id":        res.Message.ID,
		"keywords_detected": res.Tokens,
		"status":            res.Session.Status,
		"order_status":      res.Session.OrderStatus,
	}
	if res.OrderErr != nil {
		resp["order_error"] = res.OrderErr.Error()
	}
	if res.StatusErr != nil {
		resp["status_error"] = res.StatusErr.Error()
	}

	confirmation, err := h.orders.ConfirmDetected(ctx, req.SessionID, res)
	if err != nil {
		// The message itself is stored; the order can be confirmed later.
		log.Warn().Err(err).Str("sessionId", req.SessionID).Msg("failed to confirm detected order")
		resp["order_error"] = err.Error()
	} else if confirmation != nil {
		resp["order_id"] = confirmation.OrderID
		resp["order_status"] = confirmation.Session.OrderStatus
		resp["notifications_sent"] = confirmation.NotificationsSent
	}

	writeJSON(w, http.StatusOK, resp)
}

// GET /call-logs?status=&limit=&offset=
func (h *CallLogHandler) ListCallLogs(w http.ResponseWriter, r *http.Request) {
	filter := model.CallLogFilter{Status: model.SessionStatus(r.URL.Query().Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, apperrors.InvalidInput("status", string(filter.Status)))
		return
	}

	logs, err := h.calls.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	total := len(logs)
	if p := ParsePagination(r); p.Requested {
		logs = paginate(logs, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
	})
}

// GET /call-logs/{sessionID}
func (h *CallLogHandler) GetCallLog(w http.ResponseWriter, r *http.Request) {
	rec, err := h.calls.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /active-sessions
func (h *CallLogHandler) ListActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.calls.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /staff-takeover-requests
func (h *CallLogHandler) ListTakeoverRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.calls.ListTakeoverRequests(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

// POST /request-staff-takeover
func (h *CallLogHandler) RequestTakeover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.calls.RequestTakeover(r.Context(), req.SessionID, req.Message); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, "Staff takeover requested")
}

// POST /staff-takeover
func (h *CallLogHandler) StaffTakeover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		StaffName string `json:"staff_name"`
		Message   string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.calls.TakeOver(r.Context(), req.SessionID, req.StaffName, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"status":     rec.Status,
		"staff_name": rec.StaffName,
	})
}

// POST /set-status
func (h *CallLogHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, apperrors.MissingRequired("status"))
		return
	}

	rec, err := h.calls.SetStatus(r.Context(), req.SessionID, model.SessionStatus(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  rec.Status,
	})
}

// POST /send-chat-message
func (h *CallLogHandler) SendChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
		Sender    string `json:"sender"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, apperrors.MissingRequired("message"))
		return
	}

	delivery, err := h.relay.SendChatMessage(r.Context(), req.SessionID, model.ChatSender(req.Sender), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Chat message sent",
		"message_id": delivery.Message.ID,
		"delivered":  delivery.Forwarded,
	})
}

// POST /close-call
func (h *CallLogHandler) CloseCall(w http.ResponseWriter, r *http.Request) {
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

// POST /edit-transcript
func (h *CallLogHandler) EditTranscript(w http.ResponseWriter, r *http.Request) {
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
	writeSuccess(w, "Transcript updated")
}

type confirmOrderRequest struct {
	SessionID       string   `json:"session_id"`
	CustomerName    string   `json:"customer_name"`
	CustomerPhone   string   `json:"customer_phone"`
	CustomerEmail   string   `json:"customer_email"`
	DeliveryAddress string   `json:"delivery_address"`
	OrderItems      []string `json:"order_items"`
	TotalAmount     float64  `json:"total_amount"`
	Notes           string   `json:"notes"`
}

// POST /confirm-order
func (h *CallLogHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req confirmOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	confirmation, err := h.orders.ConfirmOrder(r.Context(), req.SessionID, model.OrderDetails{
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		DeliveryAddress: req.DeliveryAddress,
		OrderItems:      req.OrderItems,
		TotalAmount:     req.TotalAmount,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            "Pesanan berhasil dikonfirmasi",
		"notifications_sent": confirmation.NotificationsSent,
		"order_id":           confirmation.OrderID,
	})
}
