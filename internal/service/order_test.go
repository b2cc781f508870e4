package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

type mockNotifier struct {
	mock.Mock
	channel string
}

func (m *mockNotifier) Channel() string { return m.channel }

func (m *mockNotifier) Configured() bool {
	return m.Called().Bool(0)
}

func (m *mockNotifier) SendOrderConfirmation(ctx context.Context, sessionID string, order model.OrderDetails) error {
	return m.Called(sessionID, order.CustomerName).Error(0)
}

func TestOrderService_ConfirmOrder(t *testing.T) {
	ctx := context.Background()
	order := model.OrderDetails{
		CustomerName:    "Jane",
		CustomerPhone:   "08123456789",
		CustomerEmail:   "jane@x.com",
		DeliveryAddress: "Jl. Merdeka 1",
		OrderItems:      []string{"Nasi Goreng"},
		TotalAmount:     35000,
	}

	t.Run("reports each channel", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		email := &mockNotifier{channel: "email"}
		email.On("Configured").Return(true)
		email.On("SendOrderConfirmation", "0123456789abcdef", "Jane").Return(nil)
		wa := &mockNotifier{channel: "whatsapp"}
		wa.On("Configured").Return(true)
		wa.On("SendOrderConfirmation", "0123456789abcdef", "Jane").Return(errors.New("status 500"))

		svc := NewOrderService(calls, email, wa, calls.metrics, time.Second)
		res, err := svc.ConfirmOrder(ctx, "0123456789abcdef", order)
		require.NoError(t, err)

		assert.Equal(t, "01234567", res.OrderID)
		assert.True(t, res.NotificationsSent.Email)
		assert.False(t, res.NotificationsSent.WhatsApp)
		assert.Equal(t, model.OrderStatusConfirmed, res.Session.OrderStatus)
		assert.Equal(t, 1.0, testutil.ToFloat64(calls.metrics.Notifications.WithLabelValues("whatsapp", "failed")))
		email.AssertExpectations(t)
		wa.AssertExpectations(t)
	})

	t.Run("skips email without an address", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		email := &mockNotifier{channel: "email"}
		wa := &mockNotifier{channel: "whatsapp"}
		wa.On("Configured").Return(true)
		wa.On("SendOrderConfirmation", "s1", "Jane").Return(nil)

		noEmail := order
		noEmail.CustomerEmail = ""
		svc := NewOrderService(calls, email, wa, calls.metrics, time.Second)
		res, err := svc.ConfirmOrder(ctx, "s1", noEmail)
		require.NoError(t, err)

		assert.False(t, res.NotificationsSent.Email)
		assert.True(t, res.NotificationsSent.WhatsApp)
		email.AssertNotCalled(t, "SendOrderConfirmation", mock.Anything, mock.Anything)
	})

	t.Run("unconfigured channels are not attempted", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		email := &mockNotifier{channel: "email"}
		email.On("Configured").Return(false)

		svc := NewOrderService(calls, email, nil, calls.metrics, time.Second)
		res, err := svc.ConfirmOrder(ctx, "s1", order)
		require.NoError(t, err)
		assert.Equal(t, model.NotificationsSent{}, res.NotificationsSent)
	})

	t.Run("store rejection sends nothing", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		email := &mockNotifier{channel: "email"}
		wa := &mockNotifier{channel: "whatsapp"}

		bad := order
		bad.CustomerName = ""
		svc := NewOrderService(calls, email, wa, calls.metrics, time.Second)
		_, err := svc.ConfirmOrder(ctx, "s1", bad)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
		email.AssertNotCalled(t, "Configured")
		wa.AssertNotCalled(t, "Configured")
	})
}

func TestOrderService_ConfirmDetected(t *testing.T) {
	ctx := context.Background()

	t.Run("order announced together with the close is kept", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		svc := NewOrderService(calls, nil, nil, calls.metrics, time.Second)

		res := appendText(t, calls, "s1", model.MessageTypeAgent,
			"ORDER_CONFIRMED Jane|08123456789||Jl. Merdeka 1|Nasi Goreng|Rp 35.000|No onions CLOSE_CALL_CONFIRMED")
		require.NotNil(t, res.Order)
		assert.Equal(t, "No onions", res.Order.Notes)

		conf, err := svc.ConfirmDetected(ctx, "s1", res)
		require.NoError(t, err)
		require.NotNil(t, conf)

		rec, err := calls.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCompleted, rec.OrderStatus)
		require.NotNil(t, rec.OrderDetails)
		assert.Equal(t, 35000.0, rec.OrderDetails.TotalAmount)
		assert.Equal(t, "No onions", rec.OrderDetails.Notes)
	})

	t.Run("user messages never confirm", func(t *testing.T) {
		calls, _ := newTestCallLogService(t)
		svc := NewOrderService(calls, nil, nil, calls.metrics, time.Second)

		res := appendText(t, calls, "s1", model.MessageTypeUser,
			"ORDER_CONFIRMED Jane|0812||addr|Teh|10000")
		conf, err := svc.ConfirmDetected(ctx, "s1", res)
		require.NoError(t, err)
		assert.Nil(t, conf)
	})
}
