package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubLimiter struct {
	allowed   bool
	remaining int
	err       error
	lastID    string
}

func (s *stubLimiter) Check(_ context.Context, identifier string, _ domain.RateLimitPolicy) (domain.RateLimitResult, error) {
	s.lastID = identifier
	if s.err != nil {
		return domain.RateLimitResult{}, s.err
	}
	return domain.RateLimitResult{
		Allowed:   s.allowed,
		Remaining: s.remaining,
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, secret, subject, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestRateLimitDeniedReturns429WithHeaders(t *testing.T) {
	limiter := &stubLimiter{allowed: false}
	h := RateLimit(limiter, domain.PolicyGeneralAPI)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req.RemoteAddr = "203.0.113.9:4410"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if limiter.lastID != "ip:203.0.113.9" {
		t.Errorf("identifier = %q, want ip:203.0.113.9", limiter.lastID)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestRateLimitPrefersPrincipalIdentifier(t *testing.T) {
	limiter := &stubLimiter{allowed: true, remaining: 10}
	h := RateLimit(limiter, domain.PolicyGeneralAPI)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), auth.Principal{UserID: "u1", Role: domain.RoleInvestor}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if limiter.lastID != "user:u1" {
		t.Errorf("identifier = %q, want user:u1", limiter.lastID)
	}
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &stubLimiter{err: context.DeadlineExceeded}
	h := RateLimit(limiter, domain.PolicyGeneralAPI)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (fail open)", rec.Code, http.StatusOK)
	}
}

func TestAuthInjectsPrincipal(t *testing.T) {
	const secret = "test-secret"
	verifier := auth.NewVerifier(secret, "")

	var got auth.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	h := Auth(verifier, &stubLimiter{allowed: true})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "u42", "admin"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != "u42" || got.Role != domain.RoleAdmin {
		t.Fatalf("principal = %+v, want u42/admin", got)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	verifier := auth.NewVerifier("right-secret", "")
	h := Auth(verifier, &stubLimiter{allowed: true})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret", "u1", "investor"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuthThrottlesRepeatedFailures(t *testing.T) {
	verifier := auth.NewVerifier("right-secret", "")
	h := Auth(verifier, &stubLimiter{allowed: false})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/holdings", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	const secret = "ws-secret"
	verifier := auth.NewVerifier(secret, "")
	h := Auth(verifier, &stubLimiter{allowed: true})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+signToken(t, secret, "u1", "investor"), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
