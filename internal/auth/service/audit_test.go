package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func TestAuditChain(t *testing.T) {
	ctx := context.Background()

	t.Run("entries link back to genesis", func(t *testing.T) {
		env := newTestEnv(t)

		for i := range 5 {
			require.NoError(t, env.audit.Record(ctx, domain.AuditEntry{
				ActorID: "user-1",
				Action:  domain.AuditActionLogin,
				Outcome: domain.AuditOutcomeSuccess,
				Metadata: map[string]string{
					"attempt": string(rune('a' + i)),
				},
			}))
		}

		entries, err := env.audit.List(ctx, 1, 10)
		require.NoError(t, err)
		require.Len(t, entries, 5)
		require.Equal(t, domain.GenesisHash, entries[0].PrevHash)
		for i := 1; i < len(entries); i++ {
			require.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
		}

		report, err := env.audit.VerifyChain(ctx, 1, 0)
		require.NoError(t, err)
		require.True(t, report.Valid)
		require.EqualValues(t, 5, report.Entries)
		require.Equal(t, entries[4].Hash, report.LastHash)

		// A mid-chain range is anchored on the entry before it.
		report, err = env.audit.VerifyChain(ctx, 3, 5)
		require.NoError(t, err)
		require.True(t, report.Valid)
		require.EqualValues(t, 3, report.Entries)
		require.Equal(t, entries[4].Hash, report.LastHash)

		// A range starting past the log has no anchor to stand on.
		report, err = env.audit.VerifyChain(ctx, 10, 12)
		require.NoError(t, err)
		require.False(t, report.Valid)
		require.EqualValues(t, 9, report.BadSeq)
	})

	t.Run("empty chain verifies", func(t *testing.T) {
		env := newTestEnv(t)

		report, err := env.audit.VerifyChain(ctx, 1, 0)
		require.NoError(t, err)
		require.True(t, report.Valid)
		require.Zero(t, report.Entries)
	})

	t.Run("hashes are outcome-sensitive", func(t *testing.T) {
		e := domain.AuditEntry{
			ActorID: "user-1",
			Action:  domain.AuditActionLogin,
			Outcome: domain.AuditOutcomeFailure,

			PrevHash: domain.GenesisHash,
		}
		failure := e.ComputeHash()

		e.Outcome = domain.AuditOutcomeSuccess
		require.NotEqual(t, failure, e.ComputeHash())
	})
}

func TestAuditTamperDetection(t *testing.T) {
	ctx := context.Background()

	// File-backed databases so a second connection can edit rows behind
	// the store's back, the way an attacker with DB access would.
	seedChain := func(t *testing.T) (*testEnv, *sql.DB) {
		t.Helper()
		dbPath := filepath.Join(t.TempDir(), "audit.db")
		env := newTestEnvWithDSN(t, dbPath)

		for range 4 {
			require.NoError(t, env.audit.Record(ctx, domain.AuditEntry{
				ActorID: "user-1",
				Action:  domain.AuditActionLogin,
				Outcome: domain.AuditOutcomeFailure,
			}))
		}

		raw, err := sql.Open("sqlite", dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = raw.Close() })
		return env, raw
	}

	t.Run("rewriting an entry breaks verification at its seq", func(t *testing.T) {
		env, raw := seedChain(t)

		_, err := raw.ExecContext(ctx,
			`UPDATE audit_log SET outcome = ? WHERE seq = 2`, domain.AuditOutcomeSuccess)
		require.NoError(t, err)

		report, err := env.audit.VerifyChain(ctx, 1, 0)
		require.NoError(t, err)
		require.False(t, report.Valid)
		require.EqualValues(t, 2, report.BadSeq)
		require.Equal(t, "entry hash does not match contents", report.Detail)

		// A range beyond the rewrite still verifies: the anchor is the
		// stored hash of seq 2, which its successors legitimately link to.
		report, err = env.audit.VerifyChain(ctx, 3, 4)
		require.NoError(t, err)
		require.True(t, report.Valid)
		require.EqualValues(t, 2, report.Entries)
	})

	t.Run("deleting an interior entry breaks the link", func(t *testing.T) {
		env, raw := seedChain(t)

		_, err := raw.ExecContext(ctx, `DELETE FROM audit_log WHERE seq = 3`)
		require.NoError(t, err)

		report, err := env.audit.VerifyChain(ctx, 1, 0)
		require.NoError(t, err)
		require.False(t, report.Valid)
		require.EqualValues(t, 4, report.BadSeq)
		require.Equal(t, "previous-hash link broken", report.Detail)
	})
}
