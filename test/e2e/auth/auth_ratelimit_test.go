package auth_test

import (
	"testing"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestLoginRateLimiting tests the per-IP limiter on the login endpoint
// using the production limits (5 requests per minute on strict endpoints).
func TestLoginRateLimiting(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	// Burn through the strict budget. The email is never registered so the
	// per-account lockout counter stays out of the picture; this is purely
	// the IP limiter.
	var rateLimited bool
	for i := 0; i < 10; i++ {
		_, err := client.Login(t.Context(), "limiter@example.com", "WrongPassword123!")
		require.Error(t, err)

		var apiErr *authsdk.APIError
		require.ErrorAs(t, err, &apiErr)
		if apiErr.Code == authsdk.ErrorCodeRateLimited {
			rateLimited = true
			break
		}
	}
	require.True(t, rateLimited, "Login endpoint should rate limit rapid requests")

	t.Logf("Rate limit tripped as expected")
}

// TestHealthEndpointsNotStrictlyLimited tests that probes use the lenient
// profile and survive polling at a rate that would trip the strict one.
func TestHealthEndpointsNotStrictlyLimited(t *testing.T) {
	baseURL, cleanup := setupAuthContainerWithDefaultRateLimits(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	for i := 0; i < 20; i++ {
		require.NoError(t, client.Livez(t.Context()), "Probe %d should not be rate limited", i)
	}
}
