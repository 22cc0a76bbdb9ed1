package auth_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common constants and helper functions for auth service end-to-end tests.
 * This includes container setup, account helpers, and assertions.
 */

const (
	testImageName = "meridian-auth-test:latest"

	adminEmail    = "admin@example.com"
	adminPassword = "AdminPassword123!"

	// Long enough to clear the minimum password length everywhere.
	defaultPassword = "UserPassword123!"
)

// TestMain manages the test lifecycle, builds the Docker image once before
// all tests and cleans it up after all tests complete.
func TestMain(m *testing.M) {
	fmt.Fprintf(os.Stdout, "Building Auth Service Docker image...")

	if err := buildDockerImage(); err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to build Docker image: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	fmt.Fprintf(os.Stdout, "Cleaning up Auth Service Docker image...")
	cleanupDockerImage()
	fmt.Fprintf(os.Stdout, " done\n")

	os.Exit(exitCode)
}

// buildDockerImage builds the test Docker image if it doesn't exist.
func buildDockerImage() error {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "build",
		"-t", testImageName,
		"-f", "../../../cmd/auth/Dockerfile",
		"../../../")
	cmd.Dir = "."
	cmd.Stdout = os.Stdout
	cmd.Stderr = nil

	return cmd.Run()
}

// cleanupDockerImage removes the test Docker image.
func cleanupDockerImage() {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "docker", "rmi", "-f", testImageName)
	_ = cmd.Run() // Ignore errors - image might not exist
}

// setupAuthContainer starts the auth service in a container and returns the
// base URL. Rate limits are relaxed so tests can make many rapid requests
// without tripping the per-IP limiters; use
// setupAuthContainerWithDefaultRateLimits to test the limiters themselves.
func setupAuthContainer(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, map[string]string{
		"RATELIMIT_STRICT_REQUESTS":   "1000",
		"RATELIMIT_STRICT_WINDOW_SEC": "60",
		"RATELIMIT_STRICT_BURST":      "1000",
		"RATELIMIT_MODERATE_REQUESTS": "1000",
		"RATELIMIT_MODERATE_BURST":    "1000",
	})
}

// setupAuthContainerWithDefaultRateLimits starts the auth service with the
// production rate limits in force.
func setupAuthContainerWithDefaultRateLimits(t *testing.T) (string, func()) {
	t.Helper()
	return startContainer(t, nil)
}

func startContainer(t *testing.T, extraEnv map[string]string) (string, func()) {
	t.Helper()
	ctx := context.Background()

	env := map[string]string{
		"AUTH_ISSUER":         "meridian-auth-test",
		"AUTH_DATABASE_FILE":  "/data/auth.db",
		"AUTH_PEPPER_FILE":    "/data/pepper",
		"AUTH_ADMIN_EMAIL":    adminEmail,
		"AUTH_ADMIN_PASSWORD": adminPassword,
		"ENV":                 "test",
		"LOG_LEVEL":           "info",
		"LOG_FORMAT":          "json",
	}
	for k, v := range extraEnv {
		env[k] = v
	}

	req := testcontainers.ContainerRequest{
		Image:        testImageName,
		ExposedPorts: []string{"8080/tcp"},
		Env:          env,
		WaitingFor: wait.ForHTTP("/livez").
			WithPort("8080/tcp").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, "8080")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	baseURL := fmt.Sprintf("http://%s:%s", host, mappedPort.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return baseURL, cleanup
}

// registerUser creates an account and returns its summary.
func registerUser(t *testing.T, client *authsdk.Client, email, password string) authsdk.UserSummary {
	t.Helper()

	user, err := client.Register(t.Context(), authsdk.RegisterRequest{
		Email:       email,
		DisplayName: "Test User",
		Password:    password,
	})
	require.NoError(t, err, "Registration should succeed")
	require.NotEmpty(t, user.ID)

	return user
}

// performLogin authenticates a password-only user and returns a session.
func performLogin(t *testing.T, client *authsdk.Client, email, password string) *authsdk.Session {
	t.Helper()

	session, err := client.Login(t.Context(), email, password)
	require.NoError(t, err, "Login should succeed")
	require.NotNil(t, session)

	return session
}

// generateTOTP generates a TOTP code for the given secret.
func generateTOTP(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	return code
}

// enrollMFA runs the full TOTP enrollment on an existing session and
// returns the secret plus the backup codes.
func enrollMFA(t *testing.T, session *authsdk.Session) (secret string, backupCodes []string) {
	t.Helper()

	setup, err := session.BeginMFASetup(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret, "TOTP secret should be returned")
	require.NotEmpty(t, setup.URL, "Provisioning URL should be returned")

	codes, err := session.CompleteMFASetup(t.Context(), generateTOTP(t, setup.Secret))
	require.NoError(t, err)
	require.Len(t, codes, 10, "Should receive 10 backup codes")

	return setup.Secret, codes
}

// loginExpectingMFA attempts a password login on an MFA-enabled account and
// returns the challenge.
func loginExpectingMFA(t *testing.T, client *authsdk.Client, email, password string) *authsdk.MFARequiredError {
	t.Helper()

	_, err := client.Login(t.Context(), email, password)
	require.Error(t, err, "Should receive MFA challenge")

	var mfaErr *authsdk.MFARequiredError
	require.ErrorAs(t, err, &mfaErr, "Error should be MFARequiredError")
	require.NotEmpty(t, mfaErr.ChallengeToken, "Challenge token should be present")
	require.NotEmpty(t, mfaErr.Methods, "MFA methods should be present")

	return mfaErr
}

// assertTokenResponse verifies a token response has all required fields.
func assertTokenResponse(t *testing.T, resp authsdk.TokenResponse) {
	t.Helper()
	require.NotEmpty(t, resp.AccessToken, "Access token should not be empty")
	require.NotEmpty(t, resp.RefreshToken, "Refresh token should not be empty")
	require.Equal(t, "Bearer", resp.TokenType, "Token type should be Bearer")
	require.Positive(t, resp.ExpiresIn, "Expiry should be set")
}

// assertUnauthorized checks that an error indicates rejected credentials.
func assertUnauthorized(t *testing.T, err error, context string) {
	t.Helper()
	require.Error(t, err, context)

	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr, "%s - should be an APIError, got: %v", context, err)
	require.Contains(t,
		[]string{authsdk.ErrorCodeInvalidCredentials, authsdk.ErrorCodeInvalidToken, authsdk.ErrorCodeInvalidRefresh},
		apiErr.Code,
		"%s - error should indicate rejected credentials", context)
}
