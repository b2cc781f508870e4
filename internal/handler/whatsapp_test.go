package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/service"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

type stubInbound struct {
	seen []whatsapp.InboundText
	fail map[string]bool
}

func (s *stubInbound) HandleInbound(ctx context.Context, in whatsapp.InboundText) (*service.InboundResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.seen = append(s.seen, in)
	if s.fail[in.MessageID] {
		return nil, errors.New("boom")
	}
	return &service.InboundResult{SessionID: whatsapp.SessionID(in.From), Outcome: service.OutcomeReplied}, nil
}

func TestWhatsAppHandler_Verify(t *testing.T) {
	h := NewWhatsAppHandler(&stubInbound{}, WhatsAppHandlerConfig{VerifyToken: "verify-me"})

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"echoes challenge", "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, "Verification failed"},
		{"wrong mode", "?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, "Verification failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhook"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}

	t.Run("empty configured token never verifies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewWhatsAppHandler(&stubInbound{}, WhatsAppHandlerConfig{}).
			Verify(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func textMessage(id, from, body string) whatsapp.IncomingMessage {
	return whatsapp.IncomingMessage{From: from, ID: id, Type: "text", Text: &whatsapp.TextPart{Body: body}}
}

func TestWhatsAppHandler_Receive(t *testing.T) {
	t.Run("handles every text message and reports failures as unprocessed", func(t *testing.T) {
		inbound := &stubInbound{fail: map[string]bool{"m2": true}}
		h := NewWhatsAppHandler(inbound, WhatsAppHandlerConfig{})

		payload := &whatsapp.WebhookPayload{
			Object: "whatsapp_business_account",
			Entry: []whatsapp.Entry{{
				Changes: []whatsapp.Change{{
					Field: "messages",
					Value: whatsapp.Value{Messages: []whatsapp.IncomingMessage{
						textMessage("m1", "6281234", "menu"),
						textMessage("m2", "6281234", "pesan"),
						{From: "6281234", ID: "m3", Type: "image"},
					}},
				}},
			}},
		}

		ctx, cancel := context.WithCancel(context.WithValue(context.Background(), middleware.WhatsAppPayloadContextKey, payload))
		cancel()
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		h.Receive(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, float64(2), body["received"])
		assert.Equal(t, float64(1), body["processed"])
		require.Len(t, inbound.seen, 2, "a cancelled caller must not abort processing")
		assert.Equal(t, "menu", inbound.seen[0].Body)
	})

	t.Run("missing payload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewWhatsAppHandler(&stubInbound{}, WhatsAppHandlerConfig{}).
			Receive(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWhatsAppHandler_Status(t *testing.T) {
	h := NewWhatsAppHandler(&stubInbound{}, WhatsAppHandlerConfig{WhatsAppEnabled: true})
	rec := httptest.NewRecorder()

	h.Status(rec, httptest.NewRequest(http.MethodGet, "/whatsapp/status", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["whatsapp_configured"])
	assert.Equal(t, false, body["openai_configured"])
	assert.Equal(t, "running", body["status"])
}
