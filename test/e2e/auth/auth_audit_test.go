package auth_test

import (
	"testing"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestAuditChainVerify tests the admin chain verification endpoint.
func TestAuditChainVerify(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	// Generate some audit traffic: a registration, a failed login, a login
	registerUser(t, client, "audited@example.com", defaultPassword)
	_, _ = client.Login(t.Context(), "audited@example.com", "WrongPassword123!")
	performLogin(t, client, "audited@example.com", defaultPassword)

	// The seeded admin can verify the chain
	adminSession := performLogin(t, client, adminEmail, adminPassword)

	report, err := adminSession.VerifyAuditChain(t.Context())
	require.NoError(t, err)
	require.True(t, report.Valid, "Chain should verify clean: %s", report.Detail)
	require.GreaterOrEqual(t, report.Entries, int64(3), "Traffic above should have produced entries")
	require.NotEmpty(t, report.LastHash)
	require.Zero(t, report.BadSeq)

	// A mid-chain range verifies too, anchored on its predecessor
	ranged, err := adminSession.VerifyAuditRange(t.Context(), 2, report.Entries)
	require.NoError(t, err)
	require.True(t, ranged.Valid, "Range should verify clean: %s", ranged.Detail)
	require.Equal(t, report.Entries-1, ranged.Entries)
	require.Equal(t, report.LastHash, ranged.LastHash)

	t.Logf("Chain verified: %d entries", report.Entries)
}

// TestAuditEntriesListing tests the admin entries listing and the chain
// linkage visible in it.
func TestAuditEntriesListing(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	user := registerUser(t, client, "listed@example.com", defaultPassword)
	performLogin(t, client, "listed@example.com", defaultPassword)

	adminSession := performLogin(t, client, adminEmail, adminPassword)

	page, err := adminSession.AuditEntries(t.Context(), 1, 100)
	require.NoError(t, err)
	require.NotEmpty(t, page.Entries)

	// Entries are strictly sequenced and hash-linked
	for i, e := range page.Entries {
		require.EqualValues(t, i+1, e.Seq, "Sequence numbers should be dense from 1")
		require.NotEmpty(t, e.Hash)
		if i == 0 {
			require.Equal(t, "genesis", e.PrevHash)
		} else {
			require.Equal(t, page.Entries[i-1].Hash, e.PrevHash, "Entry %d should link to its predecessor", e.Seq)
		}
	}

	// The registration shows up attributed to the new account
	var sawRegister bool
	for _, e := range page.Entries {
		if e.Action == "user.register" && e.ActorID == user.ID {
			sawRegister = true
			require.Equal(t, "success", e.Outcome)
		}
	}
	require.True(t, sawRegister, "Registration should be audited")
}

// TestAuditFailedLoginsAreRecorded tests that both failure flavors land in
// the log: wrong password on a real account and an unknown email.
func TestAuditFailedLoginsAreRecorded(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	user := registerUser(t, client, "failures@example.com", defaultPassword)
	_, _ = client.Login(t.Context(), "failures@example.com", "WrongPassword123!")
	_, _ = client.Login(t.Context(), "ghost@example.com", defaultPassword)

	adminSession := performLogin(t, client, adminEmail, adminPassword)
	page, err := adminSession.AuditEntries(t.Context(), 1, 100)
	require.NoError(t, err)

	var sawKnownFailure, sawUnknownFailure bool
	for _, e := range page.Entries {
		if e.Action != "user.login" || e.Outcome != "failure" {
			continue
		}
		switch e.ActorID {
		case user.ID:
			sawKnownFailure = true
		case "unknown":
			sawUnknownFailure = true
			require.Equal(t, "ghost@example.com", e.Metadata["email"])
		}
	}
	require.True(t, sawKnownFailure, "Wrong-password failure should be audited")
	require.True(t, sawUnknownFailure, "Unknown-email failure should be audited")
}

// TestAuditRequiresAdmin tests that regular accounts cannot reach the
// audit endpoints.
func TestAuditRequiresAdmin(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "pleb@example.com", defaultPassword)
	session := performLogin(t, client, "pleb@example.com", defaultPassword)

	_, err := session.VerifyAuditChain(t.Context())
	require.Error(t, err, "Non-admin should not verify the chain")

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeForbidden, apiErr.Code)

	_, err = session.AuditEntries(t.Context(), 1, 10)
	require.Error(t, err, "Non-admin should not list entries")
}
