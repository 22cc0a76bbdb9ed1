package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants.
// Access tokens are deliberately short-lived: they are stateless and cannot
// be revoked individually, so the TTL bounds the damage window.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultChallengeTTL    = 5 * time.Minute
)

// PurposeMFAChallenge marks a token that only proves "password accepted,
// second factor pending". It must never be accepted where an access token
// is expected; the verifier and authn middleware both enforce this.
const PurposeMFAChallenge = "mfa_challenge"

// Claims are the claims we embed in signed tokens. Access tokens carry an
// empty Purpose; MFA challenge tokens carry PurposeMFAChallenge and nothing
// that would grant resource access.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the session id, shared with the refresh-token family spawned
	// by the same login.
	SID string `json:"sid,omitempty"`

	// Role of the authenticated user ("admin", "practitioner", ...).
	Role string `json:"role,omitempty"`

	// Email of the authenticated user.
	Email string `json:"email,omitempty"`

	// Purpose tags single-purpose tokens (e.g. MFA challenges). Empty for
	// access tokens.
	Purpose string `json:"purpose,omitempty"`
}

// NewAccessClaims builds claims for a short-lived access token.
func NewAccessClaims(
	subject, sid string,
	role, email string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:   sid,
		Role:  role,
		Email: email,
	}
}

// NewChallengeClaims builds claims for a short-lived MFA challenge token.
// It binds only the subject and the purpose tag; holding one does not grant
// an authenticated session.
func NewChallengeClaims(subject, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Purpose: PurposeMFAChallenge,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
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

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt == nil || now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// ValidatePurpose ensures the token was minted for the expected purpose.
// Pass "" to require a plain access token.
func (c *Claims) ValidatePurpose(expected string) error {
	if c.Purpose != expected {
		return ErrPurpose
	}
	return nil
}
