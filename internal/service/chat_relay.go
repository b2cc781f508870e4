package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/llm"
	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/observability"
	"github.com/Kiryzsuuu/call-agent/internal/util"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

// Inbound message outcomes, also used as metric labels.
const (
	OutcomeReplied       = "replied"
	OutcomeStaffHandling = "staff_handling"
	OutcomeRateLimited   = "rate_limited"
	OutcomeSendFailed    = "send_failed"
)

type ReplyGenerator interface {
	Configured() bool
	Reply(ctx context.Context, userMessage, document string) (string, error)
}

type DocumentSource interface {
	Text() string
}

type MessageSender interface {
	Configured() bool
	SendText(ctx context.Context, to, text string) error
}

// ChatRelayService moves chat messages between customers, the bot and staff.
// Every message, in either direction, is recorded in the call log first.
type ChatRelayService struct {
	calls     *CallLogService
	orders    *OrderService
	responder ReplyGenerator
	documents DocumentSource
	sender    MessageSender
	limiter   RateLimiter
	metrics   *observability.Metrics

	rateLimit  int
	rateWindow time.Duration
}

type ChatRelayConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

func NewChatRelayService(
	calls *CallLogService,
	orders *OrderService,
	responder ReplyGenerator,
	documents DocumentSource,
	sender MessageSender,
	limiter RateLimiter,
	metrics *observability.Metrics,
	cfg ChatRelayConfig,
) *ChatRelayService {
	return &ChatRelayService{
		calls:      calls,
		orders:     orders,
		responder:  responder,
		documents:  documents,
		sender:     sender,
		limiter:    limiter,
		metrics:    metrics,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
	}
}

type ChatDelivery struct {
	Message *model.Message
	Session *model.CallLog
	// Forwarded reports whether a staff message reached the WhatsApp
	// customer.
	Forwarded bool
}

// SendChatMessage records a console chat message. Staff messages written
// into a WhatsApp conversation are also delivered to the customer; a failed
// delivery is reported, not returned as an error.
func (s *ChatRelayService) SendChatMessage(ctx context.Context, sessionID string, sender model.ChatSender, text string) (*ChatDelivery, error) {
	msg, rec, err := s.calls.SendChatMessage(ctx, sessionID, sender, text)
	if err != nil {
		return nil, err
	}

	delivery := &ChatDelivery{Message: msg, Session: rec}
	phone, ok := strings.CutPrefix(sessionID, "whatsapp_")
	if sender != model.SenderStaff || !ok || s.sender == nil || !s.sender.Configured() {
		return delivery, nil
	}

	if err := s.sender.SendText(ctx, phone, text); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Msg("failed to forward staff message to whatsapp")
		return delivery, nil
	}
	delivery.Forwarded = true
	return delivery, nil
}

type InboundResult struct {
	SessionID string
	Outcome   string
	Reply     string
	Order     *OrderConfirmation
}

// HandleInbound records a customer's WhatsApp message and, unless staff is
// handling the conversation, answers it with a generated reply.
func (s *ChatRelayService) HandleInbound(ctx context.Context, in whatsapp.InboundText) (*InboundResult, error) {
	sessionID := whatsapp.SessionID(in.From)
	res, err := s.calls.AppendMessage(ctx, AppendParams{
		SessionID: sessionID,
		Type:      model.MessageTypeUser,
		Text:      in.Body,
	})
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("sessionId", sessionID).Str("from", util.MaskPhone(in.From)).Logger()
	result := &InboundResult{SessionID: sessionID}

	if res.Session.Status.UnderStaffHandling() {
		logger.Info().Str("status", string(res.Session.Status)).Msg("conversation under staff handling, no automated reply")
		return s.finish(result, OutcomeStaffHandling), nil
	}

	if s.limiter != nil && s.rateLimit > 0 {
		allowed, _ := s.limiter.CheckLimit(ctx, "whatsapp:"+in.From, s.rateLimit, s.rateWindow)
		if !allowed {
			logger.Warn().Msg("whatsapp sender rate limited, no automated reply")
			return s.finish(result, OutcomeRateLimited), nil
		}
	}

	reply := s.generateReply(ctx, in.Body)
	result.Reply = reply

	if s.sender == nil || !s.sender.Configured() {
		logger.Warn().Msg("whatsapp not configured, reply not delivered")
		return s.finish(result, OutcomeSendFailed), nil
	}
	if err := s.sender.SendText(ctx, in.From, reply); err != nil {
		logger.Error().Err(err).Msg("failed to send whatsapp reply")
		return s.finish(result, OutcomeSendFailed), nil
	}

	agentRes, err := s.calls.AppendMessage(ctx, AppendParams{
		SessionID: sessionID,
		Type:      model.MessageTypeAgent,
		Text:      reply,
	})
	if err != nil {
		return nil, err
	}

	if s.orders != nil {
		conf, err := s.orders.ConfirmDetected(ctx, sessionID, agentRes)
		if err != nil {
			logger.Warn().Err(err).Msg("order from chat reply not confirmed")
		}
		result.Order = conf
	}
	return s.finish(result, OutcomeReplied), nil
}

func (s *ChatRelayService) generateReply(ctx context.Context, text string) string {
	if s.responder == nil || !s.responder.Configured() {
		return llm.FallbackReply
	}

	var document string
	if s.documents != nil {
		document = s.documents.Text()
	}
	reply, err := s.responder.Reply(ctx, text, document)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate chat reply")
		return llm.FallbackReply
	}
	return reply
}

func (s *ChatRelayService) finish(result *InboundResult, outcome string) *InboundResult {
	result.Outcome = outcome
	s.metrics.WebhookMessages.WithLabelValues(outcome).Inc()
	return result
}
