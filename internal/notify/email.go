package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var ErrNoRecipient = errors.New("notify: order has no email address")

// Email sends order confirmations over SMTP with STARTTLS when offered.
type Email struct {
	host     string
	port     int
	username string
	password string
	from     string
	timeout  time.Duration
}

func NewEmail(host string, port int, username, password, from string, timeout time.Duration) *Email {
	return &Email{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		timeout:  timeout,
	}
}

func (e *Email) Channel() string { return ChannelEmail }

func (e *Email) Configured() bool {
	return e != nil && e.host != "" && e.from != ""
}

func (e *Email) SendOrderConfirmation(ctx context.Context, sessionID string, order model.OrderDetails) error {
	if !e.Configured() {
		return ErrNotConfigured
	}
	to := strings.TrimSpace(order.CustomerEmail)
	if to == "" {
		return ErrNoRecipient
	}

	msg := buildMessage(e.from, to, orderEmailSubject(sessionID), orderEmailBody(order))
	if err := e.send(ctx, to, msg); err != nil {
		return fmt.Errorf("send order email: %w", err)
	}

	log.Info().Str("sessionId", sessionID).Str("to", to).Msg("order email sent")
	return nil
}

func (e *Email) send(ctx context.Context, to string, msg []byte) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return err
		}
	}
	if e.username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
			return err
		}
	}
	if err := c.Mail(e.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
