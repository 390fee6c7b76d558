package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wattleglen/authrelay/pkg/idx"
)

// Default token TTL constants for the relay token pair.
// These provide sensible security defaults but can be overridden per-service.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience - typical range is 7d to 30d.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType marks which slot of the pair a token belongs to. It is a signed
// claim, so a refresh token presented in an access-token position is a
// detectable condition rather than a silently accepted one.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the bearer-token claims shared by the identity service and its
// satellite apps. Keep changes additive to preserve compatibility.
type Claims struct {
	jwt.RegisteredClaims

	/* Cross-service custom fields */

	// TokenType is "access" or "refresh".
	TokenType TokenType `json:"type,omitempty"`

	// Email of the subject at issue time.
	Email string `json:"email,omitempty"`

	// Name is the display name of the subject.
	Name string `json:"name,omitempty"`

	// Verified reports whether the subject's email was verified when the
	// token was minted.
	Verified bool `json:"verified,omitempty"`

	// Permissions the satellite app may grant, e.g. ["read","edit"].
	// Advisory for UI decisions only; servers re-check.
	Permissions []string `json:"permissions,omitempty"`
}

// NewAccessClaims builds minimally-correct access-token claims.
func NewAccessClaims(
	subject, email, name string,
	verified bool,
	permissions []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return newClaims(TokenTypeAccess, subject, email, name, verified, permissions, ttl, issuer, audience, now)
}

// NewRefreshClaims builds refresh-token claims. The refresh token carries the
// same identity fields so a rotation can re-mint a pair without a user lookup
// even when the store is briefly unavailable.
func NewRefreshClaims(
	subject, email, name string,
	verified bool,
	permissions []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return newClaims(TokenTypeRefresh, subject, email, name, verified, permissions, ttl, issuer, audience, now)
}

func newClaims(
	typ TokenType,
	subject, email, name string,
	verified bool,
	permissions []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		TokenType:   typ,
		Email:       email,
		Name:        name,
		Verified:    verified,
		Permissions: permissions,
	}
}

// NewJTI returns a ULID for the "jti" claim, sortable by mint time like
// every other identifier in the system.
func NewJTI() string {
	return idx.New().String()
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
// A token minted for one satellite app must not verify for another.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateType checks the token-type claim against the slot the token was
// presented in. The mismatch error is distinct so callers can repair a
// swapped slot instead of discarding the token.
func (c *Claims) ValidateType(expected TokenType) error {
	if c.TokenType != expected {
		return ErrWrongType
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
