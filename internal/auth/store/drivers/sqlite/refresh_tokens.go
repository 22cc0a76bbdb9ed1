package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, user_id, token_hash, family_id, status,
	user_agent, ip, expires_at, revoked_at, created_at, updated_at`

func (r *refreshTokensRepo) scanToken(row *sql.Row) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	var revokedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &t.Status,
		&t.UserAgent, &t.IP, &t.ExpiresAt, &revokedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.RevokedAt = mapNullTimePtr(revokedAt)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, status,
			user_agent, ip, expires_at, revoked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.FamilyID, t.Status,
		t.UserAgent, t.IP, t.ExpiresAt.UTC(), mapOptionalTime(t.RevokedAt),
		now, now,
	)
	return mapConstraint(err)
}

// GetRefreshTokenByHash returns the token regardless of status. Callers
// decide what a rotated or revoked row means; reuse detection depends on
// being able to see dead tokens.
func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	return r.scanToken(row)
}

// MarkRotated transitions an active token to rotated. It returns
// store.ErrNotFound when the token is missing or no longer active, which
// lets concurrent rotations of the same token resolve to a single winner.
func (r *refreshTokensRepo) MarkRotated(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET status = ?, revoked_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		domain.TokenStatusRotated, now, now, tokenID, domain.TokenStatusActive)
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

// RevokeFamily marks every non-revoked token of a family with the given
// terminal status.
func (r *refreshTokensRepo) RevokeFamily(ctx context.Context, familyID string, status string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET status = ?, revoked_at = ?, updated_at = ?
		WHERE family_id = ? AND status IN (?, ?)`,
		status, now, now, familyID,
		domain.TokenStatusActive, domain.TokenStatusRotated)
	return err
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET status = ?, revoked_at = ?, updated_at = ?
		WHERE user_id = ? AND status IN (?, ?)`,
		domain.TokenStatusRevoked, now, now, userID,
		domain.TokenStatusActive, domain.TokenStatusRotated)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
