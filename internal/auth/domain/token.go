package domain

import "time"

// Refresh token statuses. Modeled as a tagged state rather than a boolean so
// audit output can distinguish "expired naturally" from "detected theft".
const (
	// TokenStatusActive is the single live token of its family.
	TokenStatusActive = "active"
	// TokenStatusRotated means the token was exchanged for a successor.
	// Presenting a rotated token again is the classic theft signal.
	TokenStatusRotated = "rotated"
	// TokenStatusRevoked covers administrative revocation: logout, password
	// change, family teardown after natural expiry.
	TokenStatusRevoked = "revoked"
	// TokenStatusReuseRevoked marks tokens revoked because reuse was
	// detected somewhere in their family.
	TokenStatusReuseRevoked = "reuse_revoked"
)

// RefreshToken models the stored refresh token record in the DB. The raw
// token value is returned to the client exactly once; only its SHA-256
// fingerprint is persisted.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string // deterministic fingerprint (base64url SHA-256)

	// FamilyID groups every token descended by rotation from one login.
	// Within a family at most one token is ever active; reuse detection
	// revokes the whole family. It doubles as the session id (sid) on
	// access tokens minted for the same login.
	FamilyID string

	Status    string // one of the TokenStatus* constants
	UserAgent string
	IP        string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Live reports whether the token is active and unexpired at the given instant.
func (t RefreshToken) Live(now time.Time) bool {
	return t.Status == TokenStatusActive && now.Before(t.ExpiresAt)
}

// TokenPair is what token-issuing operations return: the short-lived access
// token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // seconds until access expiry
}

// Session is a fully authenticated login result.
type Session struct {
	User   UserSummary `json:"user"`
	Tokens TokenPair   `json:"tokens"`
}
