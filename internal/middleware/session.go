package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/model"
)

const (
	StaffSessionCookie = "staff_session"
	SessionMaxAge      = 24 * time.Hour
)

const StaffSessionContextKey contextKey = "staffSession"

func GetStaffSession(ctx context.Context) *model.StaffSession {
	if session, ok := ctx.Value(StaffSessionContextKey).(*model.StaffSession); ok {
		return session
	}
	return nil
}

// WithStaffSession stores session in ctx the way StaffSessionMiddleware does.
func WithStaffSession(ctx context.Context, session *model.StaffSession) context.Context {
	return context.WithValue(ctx, StaffSessionContextKey, session)
}

type StaffAuthenticator interface {
	Enabled() bool
	Authenticate(ctx context.Context, token string) (*model.StaffSession, error)
}

type StaffSessionMiddleware struct {
	auth StaffAuthenticator
}

func NewStaffSessionMiddleware(auth StaffAuthenticator) *StaffSessionMiddleware {
	return &StaffSessionMiddleware{auth: auth}
}

func (m *StaffSessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.auth.Enabled() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "Staff console not configured",
			})
			return
		}

		cookie, err := r.Cookie(StaffSessionCookie)
		if err != nil || cookie.Value == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		session, err := m.auth.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			log.Error().Err(err).Msg("staff session middleware: session lookup failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Session validation failed",
			})
			return
		}

		if session == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithStaffSession(r.Context(), session)))
	})
}

func SetSessionCookie(w http.ResponseWriter, name, token string, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     path,
		MaxAge:   int(SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   path,
		MaxAge: -1,
	})
}
