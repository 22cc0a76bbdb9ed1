package domain

import "time"

type User struct {
	ID           string
	Email        string // unique, stored lowercase
	DisplayName  string
	PasswordHash string // argon2 encoded
	Role         string

	// MFA state. MFASecret non-nil with MFAEnabled nil means enrollment is
	// pending verification; MFAEnabled is the timestamp MFA was turned on.
	MFAEnabled *time.Time
	MFASecret  *string // TOTP secret (base32 encoded)

	// Lockout state. FailedLogins counts consecutive failures; LockedUntil
	// is set once the threshold is crossed and cleared on success.
	FailedLogins int
	LockedUntil  *time.Time

	DeletedAt *time.Time // soft delete; rows are never hard-deleted
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MFAPending reports whether the user has enrolled a secret but not yet
// completed verification.
func (u User) MFAPending() bool {
	return u.MFASecret != nil && *u.MFASecret != "" && u.MFAEnabled == nil
}

// MFAActive reports whether MFA is fully enabled.
func (u User) MFAActive() bool {
	return u.MFAEnabled != nil && u.MFASecret != nil && *u.MFASecret != ""
}

// LockedAt reports whether the account is locked out at the given instant.
func (u User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// UserSummary is the externally visible slice of a user record. It never
// carries hashes, secrets, or lockout internals.
type UserSummary struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}

// Summary projects the user onto its external representation.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		MFAEnabled:  u.MFAActive(),
	}
}
