package middleware

import (
	"net/http"
	"strings"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
)

// Auth returns middleware that validates the Bearer token on every request
// and stores the resulting principal on the request context. Requests
// without a valid token are rejected with 401. Failed attempts are counted
// per client IP against the auth-attempt policy so token guessing is cut off
// with 429 after the allowance is spent.
func Auth(verifier *auth.Verifier, limiter domain.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				rejectAuth(w, r, limiter, "missing authentication token")
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				rejectAuth(w, r, limiter, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// rejectAuth records the failed attempt and answers 401, or 429 once the
// client has exhausted its attempt allowance. Limiter errors fail open to
// the plain 401.
func rejectAuth(w http.ResponseWriter, r *http.Request, limiter domain.RateLimiter, msg string) {
	if limiter != nil {
		res, err := limiter.Check(r.Context(), "authfail:ip:"+extractClientIP(r), domain.PolicyAuthAttempts)
		if err == nil && !res.Allowed {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many failed authentication attempts"}`))
			return
		}
	}
	writeUnauthorized(w, msg)
}

// extractToken looks for a token in the Authorization header (Bearer scheme).
// WebSocket clients cannot set headers from browsers, so a token query
// parameter is accepted as a fallback.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if tok := r.URL.Query().Get("token"); tok != "" {
		return strings.TrimSpace(tok)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
