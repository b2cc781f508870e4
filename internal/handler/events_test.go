package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/sse"
)

type stubTakeovers []model.TakeoverRequest

func (s stubTakeovers) ListTakeoverRequests(ctx context.Context) ([]model.TakeoverRequest, error) {
	return s, nil
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("returns 401 when no staff session in context", func(t *testing.T) {
		handler := NewEventsHandler(nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/console/api/events", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Unauthorized")
	})

	t.Run("streams connected, pending takeovers and broker events", func(t *testing.T) {
		broker := sse.NewBroker(nil)
		defer broker.Close()

		pending := stubTakeovers{{SessionSummary: model.SessionSummary{SessionID: "s-waiting"}}}
		handler := NewEventsHandler(broker, pending)

		ctx, cancel := context.WithCancel(context.Background())
		ctx = middleware.WithStaffSession(ctx, &model.StaffSession{StaffName: "budi"})
		req := httptest.NewRequest(http.MethodGet, "/console/api/events", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		done := make(chan struct{})
		go func() {
			handler.ServeHTTP(rec, req)
			close(done)
		}()

		require.Eventually(t, func() bool { return broker.TotalClients() == 1 }, time.Second, 10*time.Millisecond)
		require.NoError(t, broker.Publish(context.Background(), sse.Event{
			Type:      "message_appended",
			SessionID: "s1",
			Data:      json.RawMessage(`{"message":"halo"}`),
		}))

		// The recorder is not safe to read while the handler writes, so stop
		// the stream before inspecting it.
		time.Sleep(50 * time.Millisecond)
		cancel()
		<-done

		body := rec.Body.String()
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Contains(t, body, "event: connected\n")
		assert.Contains(t, body, `"staff_name":"budi"`)
		assert.Contains(t, body, "event: pending_takeovers\n")
		assert.Contains(t, body, "s-waiting")
		assert.Contains(t, body, "event: message_appended\n")
		assert.Less(t, strings.Index(body, "connected"), strings.Index(body, "message_appended"))
		assert.Equal(t, 0, broker.TotalClients())
	})
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendRawEvent(rec, rec, sse.Event{
		Type: "status_changed",
		Data: json.RawMessage(`{"from":"active","to":"completed"}`),
	})

	assert.NoError(t, err)
	assert.Equal(t, "event: status_changed\ndata: {\"from\":\"active\",\"to\":\"completed\"}\n\n", rec.Body.String())
}
