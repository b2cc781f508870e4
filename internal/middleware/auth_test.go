package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAgentAuthMiddleware(t *testing.T) {
	t.Run("allows every request when no token is configured", func(t *testing.T) {
		handler := NewAgentAuthMiddleware("").Handler(okHandler())

		req := httptest.NewRequest("POST", "/log-message", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allows request with bearer token", func(t *testing.T) {
		handler := NewAgentAuthMiddleware("agent-secret").Handler(okHandler())

		req := httptest.NewRequest("POST", "/log-message", nil)
		req.Header.Set("Authorization", "Bearer agent-secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("allows request with query token", func(t *testing.T) {
		handler := NewAgentAuthMiddleware("agent-secret").Handler(okHandler())

		req := httptest.NewRequest("GET", "/call-logs?token=agent-secret", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without token", func(t *testing.T) {
		handler := NewAgentAuthMiddleware("agent-secret").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/call-logs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing authentication token")
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		handler := NewAgentAuthMiddleware("agent-secret").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest("GET", "/call-logs", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid token")
	})
}

type stubStaffAuth struct {
	enabled bool
	session *model.StaffSession
	err     error
	token   string
}

func (s *stubStaffAuth) Enabled() bool { return s.enabled }

func (s *stubStaffAuth) Authenticate(ctx context.Context, token string) (*model.StaffSession, error) {
	s.token = token
	return s.session, s.err
}

func TestStaffSessionMiddleware(t *testing.T) {
	session := &model.StaffSession{
		ID:        "s-1",
		StaffName: "budi",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	newRequest := func(cookie string) *http.Request {
		req := httptest.NewRequest("GET", "/console/me", nil)
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: StaffSessionCookie, Value: cookie})
		}
		return req
	}

	t.Run("puts the session in context", func(t *testing.T) {
		auth := &stubStaffAuth{enabled: true, session: session}
		handler := NewStaffSessionMiddleware(auth).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := GetStaffSession(r.Context())
			require.NotNil(t, got)
			assert.Equal(t, "budi", got.StaffName)
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest("tok"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tok", auth.token)
	})

	tests := []struct {
		name   string
		auth   *stubStaffAuth
		cookie string
		status int
	}{
		{"console disabled", &stubStaffAuth{enabled: false}, "tok", http.StatusServiceUnavailable},
		{"missing cookie", &stubStaffAuth{enabled: true, session: session}, "", http.StatusUnauthorized},
		{"unknown session", &stubStaffAuth{enabled: true}, "tok", http.StatusUnauthorized},
		{"lookup failure", &stubStaffAuth{enabled: true, err: errors.New("redis down")}, "tok", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewStaffSessionMiddleware(tt.auth).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newRequest(tt.cookie))

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestSessionCookies(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, StaffSessionCookie, "tok", "/", true)
	ClearSessionCookie(rec, StaffSessionCookie, "/")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "tok", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, int(SessionMaxAge.Seconds()), cookies[0].MaxAge)
	assert.Equal(t, -1, cookies[1].MaxAge)
}
