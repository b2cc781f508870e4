package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/middleware"
	"github.com/Kiryzsuuu/call-agent/internal/service"
	"github.com/Kiryzsuuu/call-agent/internal/util"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

const defaultWebhookTimeout = time.Minute

type InboundHandler interface {
	HandleInbound(ctx context.Context, in whatsapp.InboundText) (*service.InboundResult, error)
}

type WhatsAppHandler struct {
	relay           InboundHandler
	verifyToken     string
	timeout         time.Duration
	whatsAppEnabled bool
	openAIEnabled   bool
}

type WhatsAppHandlerConfig struct {
	VerifyToken     string
	// Timeout bounds the processing of one delivery, independent of the
	// webhook caller's connection.
	Timeout         time.Duration
	WhatsAppEnabled bool
	OpenAIEnabled   bool
}

func NewWhatsAppHandler(relay InboundHandler, cfg WhatsAppHandlerConfig) *WhatsAppHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	return &WhatsAppHandler{
		relay:           relay,
		verifyToken:     cfg.VerifyToken,
		timeout:         cfg.Timeout,
		whatsAppEnabled: cfg.WhatsAppEnabled,
		openAIEnabled:   cfg.OpenAIEnabled,
	}
}

// GET /webhook
func (h *WhatsAppHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || !util.ConstantTimeEqual(token, h.verifyToken) {
		log.Warn().Str("mode", mode).Msg("whatsapp webhook verification failed")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Verification failed"))
		return
	}

	log.Info().Msg("whatsapp webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// POST /webhook
// Always answers 200 once the payload is authentic so the platform does not
// redeliver messages that were already recorded.
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	payload := middleware.GetWhatsAppPayload(r.Context())
	if payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid webhook payload"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	messages := payload.TextMessages()
	processed := 0
	for _, in := range messages {
		res, err := h.relay.HandleInbound(ctx, in)
		if err != nil {
			log.Error().
				Err(err).
				Str("messageId", in.MessageID).
				Str("from", util.MaskPhone(in.From)).
				Msg("failed to handle whatsapp message")
			continue
		}
		processed++
		log.Debug().
			Str("sessionId", res.SessionID).
			Str("outcome", res.Outcome).
			Msg("whatsapp message handled")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"received":  len(messages),
		"processed": processed,
	})
}

// GET /whatsapp/status
func (h *WhatsAppHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"whatsapp_configured": h.whatsAppEnabled,
		"openai_configured":   h.openAIEnabled,
		"status":              "running",
	})
}
