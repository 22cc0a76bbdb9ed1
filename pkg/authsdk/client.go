package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the Meridian auth service. It provides the
// unauthenticated operations and can create authenticated Sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (UserSummary, error) {
	var out UserSummary
	err := c.postJSON(ctx, "/v1/auth/register", req, &out, http.StatusCreated)
	return out, err
}

// Login performs a password login. For MFA-enabled accounts it returns a
// *MFARequiredError; complete the login with VerifyTOTP or VerifyBackupCode.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out SessionResponse
	if err := c.postJSON(ctx, "/v1/auth/login", LoginRequest{Email: email, Password: password}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// VerifyTOTP completes an MFA login with an authenticator code.
func (c *Client) VerifyTOTP(ctx context.Context, challengeToken, code string) (*Session, error) {
	var out SessionResponse
	req := MFAVerifyRequest{ChallengeToken: challengeToken, Code: code}
	if err := c.postJSON(ctx, "/v1/auth/mfa/verify", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// VerifyBackupCode completes an MFA login by redeeming a single-use backup
// code.
func (c *Client) VerifyBackupCode(ctx context.Context, challengeToken, code string) (*Session, error) {
	var out SessionResponse
	req := MFAVerifyRequest{ChallengeToken: challengeToken, Code: code}
	if err := c.postJSON(ctx, "/v1/auth/mfa/backup", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, out), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	var out TokenResponse
	err := c.postJSON(ctx, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &out, http.StatusOK)
	return out, err
}

// Logout revokes the refresh token's whole family.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/logout",
		jsonBody(LogoutRequest{RefreshToken: refreshToken}),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Livez reports whether the service process is up.
func (c *Client) Livez(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/livez", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("livez: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Readyz reports whether the service can reach its database.
func (c *Client) Readyz(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readyz: HTTP %d", resp.StatusCode)
	}
	return nil
}

// NewSessionFromTokens builds a Session from previously stored tokens. The
// session still auto-refreshes when the access token nears expiry.
func (c *Client) NewSessionFromTokens(accessToken, refreshToken string, expiresIn int64) *Session {
	return &Session{
		client:       c,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    time.Now().Add(time.Duration(expiresIn)*time.Second - expiryBuffer),
	}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) doRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// postJSON posts a JSON body and decodes a JSON response.
func (c *Client) postJSON(ctx context.Context, path string, in, out any, expectedStatus int) error {
	resp, err := c.doRequest(ctx, http.MethodPost, path, jsonBody(in),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, expectedStatus)
}

func jsonBody(v any) io.Reader {
	buf, _ := json.Marshal(v)
	return bytes.NewReader(buf)
}

// decodeJSON decodes a JSON response into target, converting non-expected
// statuses into typed errors.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatusNoContent(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp, bodyBytes)
	}
	return nil
}
