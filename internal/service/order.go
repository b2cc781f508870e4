package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/notify"
	"github.com/Kiryzsuuu/call-agent/internal/observability"
)

// OrderNotifier delivers an order confirmation on one channel.
type OrderNotifier interface {
	Channel() string
	Configured() bool
	SendOrderConfirmation(ctx context.Context, sessionID string, order model.OrderDetails) error
}

type OrderConfirmation struct {
	Session           *model.CallLog
	OrderID           string
	NotificationsSent model.NotificationsSent
}

// OrderService confirms orders in the call log and then notifies the
// customer. A notification failure is reported in NotificationsSent and
// never undoes the confirmation.
type OrderService struct {
	calls    *CallLogService
	email    OrderNotifier
	whatsApp OrderNotifier
	metrics  *observability.Metrics
	timeout  time.Duration
}

func NewOrderService(
	calls *CallLogService,
	email, whatsApp OrderNotifier,
	metrics *observability.Metrics,
	timeout time.Duration,
) *OrderService {
	return &OrderService{
		calls:    calls,
		email:    email,
		whatsApp: whatsApp,
		metrics:  metrics,
		timeout:  timeout,
	}
}

func (s *OrderService) ConfirmOrder(ctx context.Context, sessionID string, order model.OrderDetails) (*OrderConfirmation, error) {
	rec, err := s.calls.ConfirmOrder(ctx, sessionID, order)
	if err != nil {
		return nil, err
	}

	// The record is committed; notifications must not be cut short by the
	// caller going away.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	details := order
	if rec.OrderDetails != nil {
		details = *rec.OrderDetails
	}

	sent := model.NotificationsSent{}
	if details.CustomerEmail != "" {
		sent.Email = s.dispatch(notifyCtx, s.email, sessionID, details)
	}
	sent.WhatsApp = s.dispatch(notifyCtx, s.whatsApp, sessionID, details)

	log.Info().
		Str("sessionId", sessionID).
		Bool("emailSent", sent.Email).
		Bool("whatsappSent", sent.WhatsApp).
		Msg("order confirmation processed")

	return &OrderConfirmation{
		Session:           rec,
		OrderID:           model.OrderID(sessionID),
		NotificationsSent: sent,
	}, nil
}

// ConfirmDetected confirms the order an agent message announced with
// ORDER_CONFIRMED. It returns nil, nil when the append carried no valid order.
func (s *OrderService) ConfirmDetected(ctx context.Context, sessionID string, res *AppendResult) (*OrderConfirmation, error) {
	if res == nil || res.Order == nil || !res.Message.Type.IsAgent() {
		return nil, nil
	}
	return s.ConfirmOrder(ctx, sessionID, *res.Order)
}

func (s *OrderService) dispatch(ctx context.Context, n OrderNotifier, sessionID string, order model.OrderDetails) bool {
	if n == nil || !n.Configured() {
		return false
	}

	err := n.SendOrderConfirmation(ctx, sessionID, order)
	s.metrics.ObserveNotification(n.Channel(), err == nil)
	if err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", sessionID).
			Str("channel", n.Channel()).
			Msg("order notification failed")
		return false
	}
	return true
}

var (
	_ OrderNotifier = (*notify.Email)(nil)
	_ OrderNotifier = (*notify.WhatsApp)(nil)
)
