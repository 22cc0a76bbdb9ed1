package auth_test

import (
	"testing"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestMFAEnrollmentAndLogin tests the complete MFA enrollment and login flow.
func TestMFAEnrollmentAndLogin(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa1@example.com", defaultPassword)
	session := performLogin(t, client, "mfa1@example.com", defaultPassword)

	secret, backupCodes := enrollMFA(t, session)
	t.Logf("MFA enrollment completed, received %d backup codes", len(backupCodes))

	me, err := session.Me(t.Context())
	require.NoError(t, err)
	require.True(t, me.MFAEnabled, "Account should report MFA enabled")

	// Password alone now yields a challenge, not tokens
	challenge := loginExpectingMFA(t, client, "mfa1@example.com", defaultPassword)
	require.Contains(t, challenge.Methods, "totp")
	require.Contains(t, challenge.Methods, "backup_code")

	// Complete the challenge with an authenticator code
	mfaSession, err := client.VerifyTOTP(t.Context(), challenge.ChallengeToken, generateTOTP(t, secret))
	require.NoError(t, err)

	me, err = mfaSession.Me(t.Context())
	require.NoError(t, err)
	require.Equal(t, "mfa1@example.com", me.Email)

	t.Logf("Successfully authenticated with TOTP")

	// A wrong code on a fresh challenge is rejected
	challenge2 := loginExpectingMFA(t, client, "mfa1@example.com", defaultPassword)
	_, err = client.VerifyTOTP(t.Context(), challenge2.ChallengeToken, "000000")
	require.Error(t, err, "Should reject invalid TOTP code")

	// A garbage challenge token is rejected even with a valid code
	_, err = client.VerifyTOTP(t.Context(), "not-a-challenge", generateTOTP(t, secret))
	require.Error(t, err, "Should reject invalid challenge token")
}

// TestMFABackupCodeLogin tests backup code login and single-use semantics.
func TestMFABackupCodeLogin(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa2@example.com", defaultPassword)
	session := performLogin(t, client, "mfa2@example.com", defaultPassword)
	_, backupCodes := enrollMFA(t, session)

	backupCode := backupCodes[0]

	// Redeem a backup code
	challenge := loginExpectingMFA(t, client, "mfa2@example.com", defaultPassword)
	backupSession, err := client.VerifyBackupCode(t.Context(), challenge.ChallengeToken, backupCode)
	require.NoError(t, err)
	require.NotNil(t, backupSession)

	t.Logf("Successfully authenticated with backup code")

	// The same code cannot be redeemed twice
	challenge2 := loginExpectingMFA(t, client, "mfa2@example.com", defaultPassword)
	_, err = client.VerifyBackupCode(t.Context(), challenge2.ChallengeToken, backupCode)
	require.Error(t, err, "Should not be able to reuse backup code")

	t.Logf("Backup code reuse correctly rejected")

	// A different code from the set still works
	challenge3 := loginExpectingMFA(t, client, "mfa2@example.com", defaultPassword)
	_, err = client.VerifyBackupCode(t.Context(), challenge3.ChallengeToken, backupCodes[1])
	require.NoError(t, err, "Unused backup code should work")
}

// TestMFARegenerateBackupCodes tests replacing the backup code set.
func TestMFARegenerateBackupCodes(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa3@example.com", defaultPassword)
	session := performLogin(t, client, "mfa3@example.com", defaultPassword)
	secret, oldCodes := enrollMFA(t, session)

	// Complete a full MFA login so the session is fresh
	challenge := loginExpectingMFA(t, client, "mfa3@example.com", defaultPassword)
	mfaSession, err := client.VerifyTOTP(t.Context(), challenge.ChallengeToken, generateTOTP(t, secret))
	require.NoError(t, err)

	newCodes, err := mfaSession.RegenerateBackupCodes(t.Context(), generateTOTP(t, secret))
	require.NoError(t, err)
	require.Len(t, newCodes, 10, "Should receive 10 new backup codes")
	require.NotElementsMatch(t, oldCodes, newCodes)

	// Old codes are dead
	challenge2 := loginExpectingMFA(t, client, "mfa3@example.com", defaultPassword)
	_, err = client.VerifyBackupCode(t.Context(), challenge2.ChallengeToken, oldCodes[0])
	require.Error(t, err, "Old backup code should not work after regeneration")

	// New codes work
	challenge3 := loginExpectingMFA(t, client, "mfa3@example.com", defaultPassword)
	_, err = client.VerifyBackupCode(t.Context(), challenge3.ChallengeToken, newCodes[0])
	require.NoError(t, err, "New backup code should work")

	t.Logf("Backup codes regenerated")
}

// TestMFADisable tests removing MFA from an account.
func TestMFADisable(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa4@example.com", defaultPassword)
	session := performLogin(t, client, "mfa4@example.com", defaultPassword)
	secret, _ := enrollMFA(t, session)

	challenge := loginExpectingMFA(t, client, "mfa4@example.com", defaultPassword)
	mfaSession, err := client.VerifyTOTP(t.Context(), challenge.ChallengeToken, generateTOTP(t, secret))
	require.NoError(t, err)

	// A live session alone is not enough; the password must come fresh
	err = mfaSession.DisableMFA(t.Context(), "WrongPassword123!")
	require.Error(t, err, "Wrong password should be rejected")

	// The correct password disables even without the authenticator, so a
	// user who lost their device is not locked into MFA forever
	err = mfaSession.DisableMFA(t.Context(), defaultPassword)
	require.NoError(t, err)

	t.Logf("MFA removed from account")

	// Password alone is enough again
	plainSession := performLogin(t, client, "mfa4@example.com", defaultPassword)
	me, err := plainSession.Me(t.Context())
	require.NoError(t, err)
	require.False(t, me.MFAEnabled)
}

// TestMFAPendingEnrollment tests that an unverified enrollment does not
// change the login flow.
func TestMFAPendingEnrollment(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa5@example.com", defaultPassword)
	session := performLogin(t, client, "mfa5@example.com", defaultPassword)

	// Begin but do not complete enrollment
	setup, err := session.BeginMFASetup(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)

	// Wrong code does not complete it either
	_, err = session.CompleteMFASetup(t.Context(), "000000")
	require.Error(t, err, "Wrong code should not complete enrollment")

	// Password login still works without a challenge
	plainSession := performLogin(t, client, "mfa5@example.com", defaultPassword)
	me, err := plainSession.Me(t.Context())
	require.NoError(t, err)
	require.False(t, me.MFAEnabled, "Pending enrollment should not report MFA enabled")

	// Completing setup without beginning one is rejected for a fresh user
	registerUser(t, client, "mfa6@example.com", defaultPassword)
	fresh := performLogin(t, client, "mfa6@example.com", defaultPassword)
	_, err = fresh.CompleteMFASetup(t.Context(), "123456")
	require.Error(t, err, "Should not complete enrollment that never began")
}

// TestMFACodeFailuresLockAccount tests that repeated wrong codes trip the
// same lockout as password failures.
func TestMFACodeFailuresLockAccount(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "mfa7@example.com", defaultPassword)
	session := performLogin(t, client, "mfa7@example.com", defaultPassword)
	secret, _ := enrollMFA(t, session)

	challenge := loginExpectingMFA(t, client, "mfa7@example.com", defaultPassword)

	// Five wrong codes exhaust the account's failure budget
	for i := 1; i <= 5; i++ {
		_, err := client.VerifyTOTP(t.Context(), challenge.ChallengeToken, "000000")
		require.Error(t, err, "Attempt %d: should reject invalid TOTP code", i)
	}

	t.Logf("Completed 5 failed code attempts")

	// Even a valid code is now rejected: the account is locked. The error
	// envelope is the same one a wrong code gets, so the lockout itself is
	// not observable.
	_, err := client.VerifyTOTP(t.Context(), challenge.ChallengeToken, generateTOTP(t, secret))
	require.Error(t, err, "Locked account should reject even a valid code")

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeInvalidMFACode, apiErr.Code,
		"Lockout state must not leak through the error code")

	// The password path is locked too, behind the generic rejection
	_, err = client.Login(t.Context(), "mfa7@example.com", defaultPassword)
	require.Error(t, err, "Password login should also be locked")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, authsdk.ErrorCodeInvalidCredentials, apiErr.Code)
}
