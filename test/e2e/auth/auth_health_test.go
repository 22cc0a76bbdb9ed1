package auth_test

import (
	"testing"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpoints tests the liveness and readiness probes.
func TestHealthEndpoints(t *testing.T) {
	baseURL, cleanup := setupAuthContainer(t)
	defer cleanup()

	client := authsdk.NewClient(baseURL)

	require.NoError(t, client.Livez(t.Context()), "Liveness probe should pass")
	require.NoError(t, client.Readyz(t.Context()), "Readiness probe should pass")
}
