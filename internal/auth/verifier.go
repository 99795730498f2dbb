// Package auth verifies bearer tokens and gates role-restricted operations.
// Token issuance happens elsewhere; this package only validates.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmoretti/tokenvest/internal/domain"
)

// Principal is the authenticated caller extracted from a token.
type Principal struct {
	UserID string
	Role   domain.Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

// Verifier validates HMAC-signed JWTs.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier for tokens signed with the given shared
// secret. If issuer is non-empty, the token's iss claim must match it.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates the token and returns the caller's principal.
// Any parse, signature, expiry, or claim problem maps to ErrUnauthenticated;
// the underlying cause is wrapped for logs but callers should match the
// sentinel.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, domain.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	if c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", domain.ErrUnauthenticated)
	}

	role := domain.Role(c.Role)
	if role != domain.RoleInvestor && role != domain.RoleAdmin {
		return Principal{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthenticated, c.Role)
	}

	return Principal{UserID: c.Subject, Role: role}, nil
}

// RequireAdmin is the single authorization gate for admin-only operations.
// It returns ErrForbidden when the principal lacks the admin role.
func RequireAdmin(p Principal) error {
	if !p.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}
