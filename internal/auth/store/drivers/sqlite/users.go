package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, display_name, password_hash, role,
	mfa_enabled, mfa_secret, failed_logins, locked_until, deleted_at,
	created_at, updated_at`

func (r *usersRepo) scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var mfaEnabled, lockedUntil, deletedAt sql.NullTime
	var mfaSecret sql.NullString

	err := row.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role,
		&mfaEnabled, &mfaSecret, &u.FailedLogins, &lockedUntil, &deletedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.MFAEnabled = mapNullTimePtr(mfaEnabled)
	u.MFASecret = mapNullStringPtr(mfaSecret)
	u.LockedUntil = mapNullTimePtr(lockedUntil)
	u.DeletedAt = mapNullTimePtr(deletedAt)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id)
	return r.scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`, email)
	return r.scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role,
			mfa_enabled, mfa_secret, failed_logins, locked_until, deleted_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Role,
		mapOptionalTime(u.MFAEnabled), mapOptionalString(u.MFASecret),
		u.FailedLogins, mapOptionalTime(u.LockedUntil), mapOptionalTime(u.DeletedAt),
		now, now,
	)
	return mapConstraint(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	return r.exec(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		newHash, time.Now().UTC(), userID)
}

func (r *usersRepo) RecordFailedLogin(ctx context.Context, userID string) (int, error) {
	// Increment and read back in one statement so concurrent failures
	// mostly serialize at the storage layer.
	row := r.db.QueryRowContext(ctx, `
		UPDATE users SET failed_logins = failed_logins + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING failed_logins`,
		time.Now().UTC(), userID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, mapNotFound(err)
	}
	return count, nil
}

func (r *usersRepo) SetLockout(ctx context.Context, userID string, until time.Time) error {
	return r.exec(ctx,
		`UPDATE users SET locked_until = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		until.UTC(), time.Now().UTC(), userID)
}

func (r *usersRepo) ResetLoginAttempts(ctx context.Context, userID string) error {
	return r.exec(ctx,
		`UPDATE users SET failed_logins = 0, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) UpdateMFASecret(ctx context.Context, userID string, secret string) error {
	return r.exec(ctx,
		`UPDATE users SET mfa_secret = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		secret, time.Now().UTC(), userID)
}

func (r *usersRepo) EnableMFA(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	return r.exec(ctx,
		`UPDATE users SET mfa_enabled = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, userID)
}

func (r *usersRepo) DisableMFA(ctx context.Context, userID string) error {
	return r.exec(ctx,
		`UPDATE users SET mfa_enabled = NULL, mfa_secret = NULL, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) SoftDeleteUser(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	return r.exec(ctx,
		`UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, userID)
}

// exec runs a single-row mutation and maps "no row touched" to ErrNotFound.
func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
