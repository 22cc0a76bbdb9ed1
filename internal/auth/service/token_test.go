package service

import (
	"context"
	"testing"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/pkg/cryptox"
	"github.com/meridianhq/meridian-auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh rotates within the family", func(t *testing.T) {
		env := newTestEnv(t)
		u := createTestUser(t, env, "alice@example.com", "correct-horse-battery")

		first, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)

		second, err := env.tokens.Refresh(ctx, first.RefreshToken, testMeta)
		require.NoError(t, err)
		require.NotEqual(t, first.RefreshToken, second.RefreshToken)
		require.NotEmpty(t, second.AccessToken)

		// Old and new rows share one family.
		oldRow, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
			cryptox.FingerprintToken(first.RefreshToken))
		require.NoError(t, err)
		newRow, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
			cryptox.FingerprintToken(second.RefreshToken))
		require.NoError(t, err)
		require.Equal(t, oldRow.FamilyID, newRow.FamilyID)
		require.Equal(t, domain.TokenStatusRotated, oldRow.Status)
		require.Equal(t, domain.TokenStatusActive, newRow.Status)
	})

	t.Run("reusing a rotated token kills the family", func(t *testing.T) {
		env := newTestEnv(t)
		u := createTestUser(t, env, "bob@example.com", "correct-horse-battery")

		first, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)
		second, err := env.tokens.Refresh(ctx, first.RefreshToken, testMeta)
		require.NoError(t, err)

		// The old token comes back: theft signal.
		_, err = env.tokens.Refresh(ctx, first.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrRefreshReused)

		// The legitimate successor is dead too.
		row, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
			cryptox.FingerprintToken(second.RefreshToken))
		require.NoError(t, err)
		require.Equal(t, domain.TokenStatusReuseRevoked, row.Status)

		_, err = env.tokens.Refresh(ctx, second.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrRefreshReused)

		// The teardown is on the audit record.
		entries, err := env.audit.List(ctx, 1, 100)
		require.NoError(t, err)
		var sawReuse bool
		for _, e := range entries {
			if e.Action == domain.AuditActionTokenReuse {
				sawReuse = true
				require.Equal(t, domain.AuditOutcomeReuse, e.Outcome)
				require.Equal(t, u.ID, e.ActorID)
			}
		}
		require.True(t, sawReuse)
	})

	t.Run("unknown tokens are rejected", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.tokens.Refresh(ctx, "never-issued-token", testMeta)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("expired tokens revoke the family without the theft alarm", func(t *testing.T) {
		env := newTestEnv(t)
		u := createTestUser(t, env, "carol@example.com", "correct-horse-battery")

		opaque := cryptox.MustGenerateToken(cryptox.TokenSize256)
		familyID := idx.New().String()
		require.NoError(t, env.store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: cryptox.FingerprintToken(opaque),
			FamilyID:  familyID,
			Status:    domain.TokenStatusActive,
			ExpiresAt: time.Now().Add(-time.Minute),
		}))

		_, err := env.tokens.Refresh(ctx, opaque, testMeta)
		require.ErrorIs(t, err, ErrRefreshExpired)

		row, err := env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
			cryptox.FingerprintToken(opaque))
		require.NoError(t, err)
		require.Equal(t, domain.TokenStatusRevoked, row.Status)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()

	t.Run("logout revokes every family and is idempotent", func(t *testing.T) {
		env := newTestEnv(t)
		u := createTestUser(t, env, "dave@example.com", "correct-horse-battery")

		pair, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)
		other, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)

		require.NoError(t, env.tokens.RevokeByToken(ctx, pair.RefreshToken, testMeta))

		_, err = env.tokens.Refresh(ctx, pair.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrInvalidRefresh)

		// Logging out from one device kills the sessions on every other
		// device as well.
		_, err = env.tokens.Refresh(ctx, other.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrInvalidRefresh)

		// Unknown or already-dead tokens do not error on logout.
		require.NoError(t, env.tokens.RevokeByToken(ctx, pair.RefreshToken, testMeta))
		require.NoError(t, env.tokens.RevokeByToken(ctx, "never-issued", testMeta))
	})

	t.Run("revoke all covers every family", func(t *testing.T) {
		env := newTestEnv(t)
		u := createTestUser(t, env, "erin@example.com", "correct-horse-battery")

		a, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)
		b, err := env.tokens.Issue(ctx, u, testMeta)
		require.NoError(t, err)

		require.NoError(t, env.tokens.RevokeAllForUser(ctx, u.ID))

		_, err = env.tokens.Refresh(ctx, a.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrInvalidRefresh)
		_, err = env.tokens.Refresh(ctx, b.RefreshToken, testMeta)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})
}

func TestConcurrentRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := createTestUser(t, env, "race@example.com", "correct-horse-battery")

	pair, err := env.tokens.Issue(ctx, u, testMeta)
	require.NoError(t, err)

	// Race several rotations of the same token. The status guard on the
	// rotation update admits exactly one; everyone else lands in reuse
	// handling.
	const racers = 4
	start := make(chan struct{})
	results := make(chan error, racers)
	for range racers {
		go func() {
			<-start
			_, err := env.tokens.Refresh(ctx, pair.RefreshToken, testMeta)
			results <- err
		}()
	}
	close(start)

	var wins int
	for range racers {
		err := <-results
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrRefreshReused)
	}
	require.Equal(t, 1, wins, "exactly one concurrent refresh may win")
}

func TestHousekeeping(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	u := createTestUser(t, env, "frank@example.com", "correct-horse-battery")

	stale := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(cryptox.MustGenerateToken(cryptox.TokenSize256)),
		FamilyID:  idx.New().String(),
		Status:    domain.TokenStatusRevoked,
		ExpiresAt: time.Now().Add(-60 * 24 * time.Hour),
	}
	require.NoError(t, env.store.RefreshTokens().CreateRefreshToken(ctx, stale))

	live, err := env.tokens.Issue(ctx, u, testMeta)
	require.NoError(t, err)

	deleted, err := env.store.RefreshTokens().DeleteExpiredRefreshTokens(ctx,
		time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	// The live token survived.
	_, err = env.store.RefreshTokens().GetRefreshTokenByHash(ctx,
		cryptox.FingerprintToken(live.RefreshToken))
	require.NoError(t, err)
}
