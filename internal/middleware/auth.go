package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Kiryzsuuu/call-agent/internal/util"
)

type contextKey string

// AgentAuthMiddleware guards the ingress routes used by the voice agent, the
// dashboard and the other internal services with one shared bearer token.
type AgentAuthMiddleware struct {
	tokenHash string
}

// NewAgentAuthMiddleware returns a middleware that lets every request through
// when token is empty.
func NewAgentAuthMiddleware(token string) *AgentAuthMiddleware {
	m := &AgentAuthMiddleware{}
	if token != "" {
		m.tokenHash = util.HashToken(token)
	} else {
		log.Warn().Msg("AGENT_API_TOKEN is not configured: ingress routes are unauthenticated")
	}
	return m
}

func (m *AgentAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		if !util.ConstantTimeEqual(util.HashToken(token), m.tokenHash) {
			log.Warn().Str("path", r.URL.Path).Msg("agent auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
