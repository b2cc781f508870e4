package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/sse"
)

type TakeoverLister interface {
	ListTakeoverRequests(ctx context.Context) ([]model.TakeoverRequest, error)
}

// EventsHandler streams call log events to the staff console. A client may
// follow one session with ?session_id=, otherwise it receives every event.
type EventsHandler struct {
	broker    *sse.Broker
	takeovers TakeoverLister
}

func NewEventsHandler(broker *sse.Broker, takeovers TakeoverLister) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		takeovers: takeovers,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	staff := middleware.GetStaffSession(r.Context())
	if staff == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessionID := r.URL.Query().Get("session_id")
	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("staffName", staff.StaffName).
		Str("sessionId", sessionID).
		Msg("sse connection established")

	ctx := r.Context()

	h.sendEvent(w, flusher, "connected", map[string]any{
		"staff_name": staff.StaffName,
		"session_id": sessionID,
	})

	if sessionID == "" {
		if err := h.sendPendingTakeovers(ctx, w, flusher); err != nil {
			log.Error().Err(err).Msg("failed to send pending takeover requests")
		}
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("staffName", staff.StaffName).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("staffName", staff.StaffName).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("staffName", staff.StaffName).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

// sendPendingTakeovers replays the open takeover requests so a console that
// connects late does not miss them.
func (h *EventsHandler) sendPendingTakeovers(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) error {
	if h.takeovers == nil {
		return nil
	}
	requests, err := h.takeovers.ListTakeoverRequests(ctx)
	if err != nil {
		return err
	}
	return h.sendEvent(w, flusher, "pending_takeovers", map[string]any{"requests": requests})
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
