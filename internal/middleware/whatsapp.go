package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/audit"
	"github.com/Kiryzsuuu/call-agent/internal/util"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

const WhatsAppPayloadContextKey contextKey = "whatsappPayload"

func GetWhatsAppPayload(ctx context.Context) *whatsapp.WebhookPayload {
	if payload, ok := ctx.Value(WhatsAppPayloadContextKey).(*whatsapp.WebhookPayload); ok {
		return payload
	}
	return nil
}

// WhatsAppSignatureMiddleware verifies X-Hub-Signature-256 on webhook
// deliveries and decodes the payload for the handler.
type WhatsAppSignatureMiddleware struct {
	appSecret string
}

func NewWhatsAppSignatureMiddleware(appSecret string) *WhatsAppSignatureMiddleware {
	return &WhatsAppSignatureMiddleware{appSecret: appSecret}
}

func (m *WhatsAppSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("whatsapp signature middleware: failed to read body")
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "Failed to read request body",
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if m.appSecret == "" {
			log.Warn().Msg("whatsapp signature verification bypassed: WHATSAPP_APP_SECRET is not configured")
		} else {
			signature := r.Header.Get("X-Hub-Signature-256")
			if signature == "" {
				log.Warn().Msg("whatsapp signature middleware: missing signature header")
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Missing signature",
				})
				return
			}
			if !util.VerifyHubSignature(m.appSecret, body, signature) {
				audit.LogFromRequest(r, audit.Event{Type: audit.EventWebhookSigFailure})
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Invalid signature",
				})
				return
			}
		}

		var payload whatsapp.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Warn().Err(err).Msg("whatsapp signature middleware: failed to parse body")
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "Invalid JSON body",
			})
			return
		}

		ctx := context.WithValue(r.Context(), WhatsAppPayloadContextKey, &payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
