package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

var testOrder = model.OrderDetails{
	CustomerName:    "Jane",
	CustomerPhone:   "08123456789",
	CustomerEmail:   "jane@x.com",
	DeliveryAddress: "Jl. Merdeka 1",
	OrderItems:      []string{"Nasi Goreng", "Es Teh"},
	TotalAmount:     35000,
}

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp 35,000", FormatRupiah(35000))
	assert.Equal(t, "Rp 1,250,000", FormatRupiah(1250000))
	assert.Equal(t, "Rp 0", FormatRupiah(0))
}

func TestOrderEmail(t *testing.T) {
	assert.Equal(t, "Konfirmasi Pesanan - 0123abcd", orderEmailSubject("0123abcd-4567"))

	body := orderEmailBody(testOrder)
	assert.Contains(t, body, "Halo Jane,")
	assert.Contains(t, body, "- Nasi Goreng\n- Es Teh")
	assert.Contains(t, body, "Total: Rp 35,000")
	assert.Contains(t, body, "Catatan: Tidak ada")

	msg := string(buildMessage("shop@x.com", "jane@x.com", "Hi", "a\nb"))
	assert.True(t, strings.HasPrefix(msg, "From: shop@x.com\r\n"))
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\na\r\nb"))
}

func TestEmailNotConfigured(t *testing.T) {
	e := NewEmail("", 587, "", "", "", time.Second)
	assert.ErrorIs(t, e.SendOrderConfirmation(context.Background(), "s1", testOrder), ErrNotConfigured)

	e = NewEmail("smtp.example.com", 587, "", "", "shop@x.com", time.Second)
	noEmail := testOrder
	noEmail.CustomerEmail = ""
	assert.ErrorIs(t, e.SendOrderConfirmation(context.Background(), "s1", noEmail), ErrNoRecipient)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Configured() bool {
	return m.Called().Bool(0)
}

func (m *mockSender) SendText(ctx context.Context, to, text string) error {
	return m.Called(ctx, to, text).Error(0)
}

func TestWhatsAppNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the cloud api when configured", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Configured").Return(true)
		sender.On("SendText", ctx, "08123456789", mock.MatchedBy(func(text string) bool {
			return strings.Contains(text, "Pesanan: Nasi Goreng, Es Teh")
		})).Return(nil)

		n := NewWhatsApp(sender, filepath.Join(t.TempDir(), "outbox.txt"))
		require.NoError(t, n.SendOrderConfirmation(ctx, "s1", testOrder))
		sender.AssertExpectations(t)
	})

	t.Run("surfaces api failures", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Configured").Return(true)
		sender.On("SendText", ctx, mock.Anything, mock.Anything).Return(errors.New("status 500"))

		n := NewWhatsApp(sender, "")
		assert.Error(t, n.SendOrderConfirmation(ctx, "s1", testOrder))
	})

	t.Run("falls back to the outbox file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "whatsapp_messages.txt")
		n := NewWhatsApp(nil, path)
		n.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }

		require.NoError(t, n.SendOrderConfirmation(ctx, "s1", testOrder))
		require.NoError(t, n.SendOrderConfirmation(ctx, "s2", testOrder))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)
		assert.Equal(t, 2, strings.Count(content, "Konfirmasi Pesanan untuk Jane"))
		assert.Equal(t, 2, strings.Count(content, strings.Repeat("=", 50)))
		assert.Contains(t, content, "2025-06-01T10:00:00Z")
	})

	t.Run("nothing configured", func(t *testing.T) {
		n := NewWhatsApp(nil, "")
		assert.False(t, n.Configured())
		assert.ErrorIs(t, n.SendOrderConfirmation(ctx, "s1", testOrder), ErrNotConfigured)
	})
}
