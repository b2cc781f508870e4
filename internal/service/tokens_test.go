package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Kiryzsuuu/call-agent/internal/errors"
	"github.com/Kiryzsuuu/call-agent/internal/model"
)

func TestScanControlTokens(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		tokens []model.ControlToken
	}{
		{"plain text", "Mau pesan nasi goreng", nil},
		{"close call", "Terima kasih! CLOSE_CALL_CONFIRMED", []model.ControlToken{model.TokenCloseCallConfirmed}},
		{"transfer", "Baik, TRANSFER_TO_HUMAN sekarang", []model.ControlToken{model.TokenTransferToHuman}},
		{
			"several tokens",
			"TRANSFER_TO_HUMAN ... CLOSE_CALL_CONFIRMED",
			[]model.ControlToken{model.TokenCloseCallConfirmed, model.TokenTransferToHuman},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scan := ScanControlTokens(tc.text)
			assert.Equal(t, tc.tokens, scan.Tokens)
			assert.Nil(t, scan.Order)
			assert.NoError(t, scan.OrderErr)
		})
	}
}

func TestParseOrderConfirmation(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		order, err := ParseOrderConfirmation(
			"ORDER_CONFIRMED Jane|08123456789|jane@x.com|Jl. Merdeka 1|Nasi Goreng,Es Teh|Rp 35.000|No onions")
		require.NoError(t, err)

		assert.Equal(t, "Jane", order.CustomerName)
		assert.Equal(t, "08123456789", order.CustomerPhone)
		assert.Equal(t, "jane@x.com", order.CustomerEmail)
		assert.Equal(t, "Jl. Merdeka 1", order.DeliveryAddress)
		assert.Equal(t, []string{"Nasi Goreng", "Es Teh"}, order.OrderItems)
		assert.Equal(t, 35000.0, order.TotalAmount)
		assert.Equal(t, "No onions", order.Notes)
	})

	t.Run("optional email and notes", func(t *testing.T) {
		order, err := ParseOrderConfirmation("Siap! ORDER_CONFIRMED Budi|0812|| Jl. Sudirman | Sate Ayam | 50000")
		require.NoError(t, err)
		assert.Empty(t, order.CustomerEmail)
		assert.Empty(t, order.Notes)
		assert.Equal(t, "Jl. Sudirman", order.DeliveryAddress)
		assert.Equal(t, 50000.0, order.TotalAmount)
	})

	t.Run("payload stops at the next control token", func(t *testing.T) {
		order, err := ParseOrderConfirmation(
			"ORDER_CONFIRMED Jane|0812|jane@x.com|Jl. Merdeka 1|Nasi Goreng|Rp 35.000|No onions CLOSE_CALL_CONFIRMED")
		require.NoError(t, err)
		assert.Equal(t, "No onions", order.Notes)

		order, err = ParseOrderConfirmation("ORDER_CONFIRMED Jane|0812||addr|Teh|10000 TRANSFER_TO_HUMAN")
		require.NoError(t, err)
		assert.Equal(t, 10000.0, order.TotalAmount)
		assert.Empty(t, order.Notes)

		order, err = ParseOrderConfirmation("ORDER_CONFIRMED Jane|0812||addr|Teh|10000|pedas ORDER_CONFIRMED Budi|0813||x|Kopi|5000")
		require.NoError(t, err)
		assert.Equal(t, "Jane", order.CustomerName)
		assert.Equal(t, "pedas", order.Notes)
	})

	malformed := map[string]string{
		"too few fields":   "ORDER_CONFIRMED only|two|fields",
		"non-numeric":      "ORDER_CONFIRMED Jane|0812|x|addr|Teh|gratis",
		"no items":         "ORDER_CONFIRMED Jane|0812|x|addr| , |10000",
		"empty name":       "ORDER_CONFIRMED |0812|x|addr|Teh|10000",
		"no token":         "Jane|0812|x|addr|Teh|10000",
		"negative amount":  "ORDER_CONFIRMED Jane|0812|x|addr|Teh|-5",
		"not a real float": "ORDER_CONFIRMED Jane|0812|x|addr|Teh|NaN",
	}
	for name, text := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOrderConfirmation(text)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedPayload))
		})
	}
}

func TestScanSurfacesMalformedOrder(t *testing.T) {
	scan := ScanControlTokens("ORDER_CONFIRMED only|two|fields")
	assert.Equal(t, []model.ControlToken{model.TokenOrderConfirmed}, scan.Tokens)
	assert.Nil(t, scan.Order)
	assert.True(t, apperrors.HasCode(scan.OrderErr, apperrors.ErrCodeMalformedPayload))
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"Rp 35.000":    35000,
		"Rp35,000":     35000,
		"125000":       125000,
		"rp 1.250.000": 1250000,
	}
	for in, want := range tests {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
