package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/util"
)

func TestWhatsAppSignatureMiddleware(t *testing.T) {
	secret := "test-secret"
	body := `{"object":"whatsapp_business_account","entry":[]}`
	validSignature := "sha256=" + util.HmacSHA256(secret, body)

	t.Run("passes through when secret is empty", func(t *testing.T) {
		handler := NewWhatsAppSignatureMiddleware("").Handler(okHandler())

		req := httptest.NewRequest("POST", "/whatsapp/webhook", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without signature header", func(t *testing.T) {
		handler := NewWhatsAppSignatureMiddleware(secret).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/whatsapp/webhook", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects request with invalid signature", func(t *testing.T) {
		handler := NewWhatsAppSignatureMiddleware(secret).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/whatsapp/webhook", bytes.NewBufferString(body))
		req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("accepts valid signature and stores the payload", func(t *testing.T) {
		handler := NewWhatsAppSignatureMiddleware(secret).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload := GetWhatsAppPayload(r.Context())
			require.NotNil(t, payload)
			assert.Equal(t, "whatsapp_business_account", payload.Object)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", "/whatsapp/webhook", bytes.NewBufferString(body))
		req.Header.Set("X-Hub-Signature-256", validSignature)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		handler := NewWhatsAppSignatureMiddleware("").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("POST", "/whatsapp/webhook", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
