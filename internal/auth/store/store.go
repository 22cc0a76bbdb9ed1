package store

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable, and it is the only cross-request shared mutable state
// in the auth core, so the multi-step invariants (token rotation, backup
// code redemption) lean on its transactions.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	BackupCodes() BackupCodes
	AuditLog() AuditLog

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back if fn returns
	// an error and committing otherwise. This is the recommended way to
	// handle transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a non-deleted user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail returns a non-deleted user by its case-normalized email.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	// Returns ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// RecordFailedLogin increments the consecutive-failure counter and
	// returns the new count. Losing an increment under contention is a
	// tolerated race: it only softens rate limiting, never correctness.
	RecordFailedLogin(ctx context.Context, userID string) (int, error)

	// SetLockout sets the lockout expiry for a user.
	SetLockout(ctx context.Context, userID string, until time.Time) error

	// ResetLoginAttempts zeroes the failure counter and clears any lockout.
	ResetLoginAttempts(ctx context.Context, userID string) error

	// UpdateMFASecret stores a pending TOTP secret without enabling MFA.
	UpdateMFASecret(ctx context.Context, userID string, secret string) error

	// EnableMFA marks MFA as enabled (sets the mfa_enabled timestamp).
	EnableMFA(ctx context.Context, userID string) error

	// DisableMFA clears mfa_enabled and mfa_secret.
	DisableMFA(ctx context.Context, userID string) error

	// SoftDeleteUser stamps deleted_at; the row stays for audit lineage.
	SoftDeleteUser(ctx context.Context, userID string) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token row by fingerprint regardless
	// of status; rotation needs to see revoked rows to detect reuse.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRotated flips an active token to rotated. Returns ErrNotFound if
	// the token is no longer active, which makes two racing rotations of
	// the same token resolve to a single winner.
	MarkRotated(ctx context.Context, id string) error

	// RevokeFamily revokes every non-revoked token in a family with the
	// given status (revoked or reuse_revoked).
	RevokeFamily(ctx context.Context, familyID string, status string) error

	// RevokeAllUserRefreshTokens revokes every live token for a user
	// across all families (logout, password change).
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is housekeeping for long-expired rows.
	// It returns the number of rows removed.
	DeleteExpiredRefreshTokens(ctx context.Context, olderThan time.Time) (int64, error)
}

type BackupCodes interface {
	// CreateBackupCode stores a backup code hash for a user.
	CreateBackupCode(ctx context.Context, userID string, codeHash string) error

	// ConsumeBackupCode atomically deletes a matching code hash and reports
	// whether one was consumed. Two concurrent redemptions of the same code
	// see exactly one true.
	ConsumeBackupCode(ctx context.Context, userID string, codeHash string) (bool, error)

	// DeleteAllBackupCodes removes all backup codes for a user.
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountUserBackupCodes returns the number of unused codes for a user.
	CountUserBackupCodes(ctx context.Context, userID string) (int, error)
}

// AuditLog is deliberately narrow: append and read. No update or delete
// methods exist at any layer, so violating the append-only invariant is a
// schema change, not a code path.
type AuditLog interface {
	// AppendAuditEntry inserts the entry and returns its assigned sequence
	// number. The entry's PrevHash/Hash must already be computed.
	AppendAuditEntry(ctx context.Context, e domain.AuditEntry) (int64, error)

	// GetLastAuditEntry returns the most recently appended entry, or
	// ErrNotFound on an empty chain.
	GetLastAuditEntry(ctx context.Context) (domain.AuditEntry, error)

	// ListAuditEntries returns entries with fromSeq <= seq <= toSeq in
	// ascending order.
	ListAuditEntries(ctx context.Context, fromSeq, toSeq int64) ([]domain.AuditEntry, error)
}
