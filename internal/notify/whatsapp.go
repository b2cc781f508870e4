package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/model"
	"github.com/Kiryzsuuu/call-agent/internal/util"
	"github.com/Kiryzsuuu/call-agent/internal/whatsapp"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

var ErrNotConfigured = errors.New("notify: channel not configured")

type TextSender interface {
	Configured() bool
	SendText(ctx context.Context, to, text string) error
}

// WhatsApp sends order confirmations through the Cloud API. When the API is
// not configured the message is appended to an outbox file for manual
// sending instead.
type WhatsApp struct {
	sender     TextSender
	outboxPath string

	mu  sync.Mutex
	now func() time.Time
}

func NewWhatsApp(sender TextSender, outboxPath string) *WhatsApp {
	return &WhatsApp{
		sender:     sender,
		outboxPath: outboxPath,
		now:        time.Now,
	}
}

func (w *WhatsApp) Channel() string { return ChannelWhatsApp }

func (w *WhatsApp) Configured() bool {
	return w != nil && ((w.sender != nil && w.sender.Configured()) || w.outboxPath != "")
}

func (w *WhatsApp) SendOrderConfirmation(ctx context.Context, sessionID string, order model.OrderDetails) error {
	text := orderWhatsAppText(order)

	if w.sender != nil && w.sender.Configured() {
		if err := w.sender.SendText(ctx, order.CustomerPhone, text); err != nil {
			return fmt.Errorf("send order whatsapp: %w", err)
		}
		return nil
	}
	if w.outboxPath == "" {
		return ErrNotConfigured
	}
	if err := w.appendOutbox(text); err != nil {
		return fmt.Errorf("write whatsapp outbox: %w", err)
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("customerPhone", util.MaskPhone(whatsapp.NormalizePhone(order.CustomerPhone))).
		Msg("whatsapp order message written to outbox")
	return nil
}

func (w *WhatsApp) appendOutbox(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.outboxPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(w.outboxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	entry := fmt.Sprintf("\n%s\n%s\n%s\n", w.now().Format(time.RFC3339), text, strings.Repeat("=", 50))
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
