package auth_test

import (
	"testing"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestRefreshRotation tests the rotation flow:
// 1. Login
// 2. Refresh the token pair
// 3. Verify both tokens rotated and the old refresh token is spent
func TestRefreshRotation(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "rotate@example.com", defaultPassword)
	session := performLogin(t, client, "rotate@example.com", defaultPassword)
	oldRefreshToken := session.RefreshToken()

	tokenResp, err := client.Refresh(t.Context(), oldRefreshToken)
	require.NoError(t, err)
	assertTokenResponse(t, tokenResp)
	require.NotEqual(t, oldRefreshToken, tokenResp.RefreshToken, "Refresh token should be rotated")

	t.Logf("Refresh successful, tokens rotated")

	// The rotated-out token is spent; presenting it again is reuse
	_, err = client.Refresh(t.Context(), oldRefreshToken)
	require.Error(t, err, "Spent refresh token should be rejected")
}

// TestRefreshReuseKillsFamily tests theft containment: replaying an old
// refresh token revokes the whole descendant chain.
func TestRefreshReuseKillsFamily(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "reuse@example.com", defaultPassword)
	session := performLogin(t, client, "reuse@example.com", defaultPassword)
	stolenToken := session.RefreshToken()

	// Legitimate rotation
	resp1, err := client.Refresh(t.Context(), stolenToken)
	require.NoError(t, err)

	// Attacker replays the stolen (already rotated) token
	_, err = client.Refresh(t.Context(), stolenToken)
	assertUnauthorized(t, err, "Replayed token")

	// The legitimate successor is dead too
	_, err = client.Refresh(t.Context(), resp1.RefreshToken)
	require.Error(t, err, "Successor token should be revoked after reuse")

	t.Logf("Family revoked after reuse")

	// A fresh login starts a new family that works normally
	session2 := performLogin(t, client, "reuse@example.com", defaultPassword)
	resp2, err := client.Refresh(t.Context(), session2.RefreshToken())
	require.NoError(t, err)
	assertTokenResponse(t, resp2)
}

// TestLogout tests that logout revokes the refresh token family.
func TestLogout(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "logout@example.com", defaultPassword)
	session := performLogin(t, client, "logout@example.com", defaultPassword)
	refreshToken := session.RefreshToken()

	require.NoError(t, client.Logout(t.Context(), refreshToken))

	_, err := client.Refresh(t.Context(), refreshToken)
	require.Error(t, err, "Refresh after logout should fail")

	// Logout is idempotent
	require.NoError(t, client.Logout(t.Context(), refreshToken))

	// Unknown tokens are also accepted silently
	require.NoError(t, client.Logout(t.Context(), "no-such-token"))
}

// TestSessionFamilyBoundaries tests where the family boundary matters:
// reuse detection revokes only the attacked family, while logout signs the
// user out of every device.
func TestSessionFamilyBoundaries(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "multi@example.com", defaultPassword)

	laptop := performLogin(t, client, "multi@example.com", defaultPassword)
	phone := performLogin(t, client, "multi@example.com", defaultPassword)

	// Replaying a rotated laptop token is theft; its family dies.
	rotated, err := client.Refresh(t.Context(), laptop.RefreshToken())
	require.NoError(t, err)
	_, err = client.Refresh(t.Context(), laptop.RefreshToken())
	require.Error(t, err)
	_, err = client.Refresh(t.Context(), rotated.RefreshToken)
	require.Error(t, err, "Successor in the attacked family should be dead")

	// The phone family is untouched by the theft response.
	phoneResp, err := client.Refresh(t.Context(), phone.RefreshToken())
	require.NoError(t, err, "Reuse detection should not cross families")
	assertTokenResponse(t, phoneResp)

	// Logout, by contrast, ends the user's presence everywhere.
	tablet := performLogin(t, client, "multi@example.com", defaultPassword)
	require.NoError(t, client.Logout(t.Context(), phoneResp.RefreshToken))

	_, err = client.Refresh(t.Context(), phoneResp.RefreshToken)
	require.Error(t, err)
	_, err = client.Refresh(t.Context(), tablet.RefreshToken())
	require.Error(t, err, "Logout should revoke sibling families too")
}

// TestAccessTokenAuthentication tests bearer token checks on a protected
// endpoint.
func TestAccessTokenAuthentication(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	registerUser(t, client, "bearer@example.com", defaultPassword)
	session := performLogin(t, client, "bearer@example.com", defaultPassword)

	// A valid session reaches the endpoint
	_, err := session.Me(t.Context())
	require.NoError(t, err)

	// A garbage token does not
	fake := client.NewSessionFromTokens("not-a-jwt", "irrelevant", 300)
	_, err = fake.Me(t.Context())
	require.Error(t, err, "Garbage access token should be rejected")

	// A refresh token is not an access token
	cross := client.NewSessionFromTokens(session.RefreshToken(), "irrelevant", 300)
	_, err = cross.Me(t.Context())
	require.Error(t, err, "Refresh token should not authenticate requests")
}
