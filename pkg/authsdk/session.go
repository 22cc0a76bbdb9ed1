package authsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// expiryBuffer is subtracted from the access token lifetime so a session
// refreshes shortly before the server would reject the token.
const expiryBuffer = 30 * time.Second

// Session is an authenticated handle on the auth service. It holds the
// token pair from a login and transparently rotates the refresh token when
// the access token nears expiry. Safe for concurrent use.
type Session struct {
	client *Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	user         UserSummary
}

func newSession(c *Client, resp SessionResponse) *Session {
	return &Session{
		client:       c,
		accessToken:  resp.Tokens.AccessToken,
		refreshToken: resp.Tokens.RefreshToken,
		expiresAt:    time.Now().Add(time.Duration(resp.Tokens.ExpiresIn)*time.Second - expiryBuffer),
		user:         resp.User,
	}
}

// User returns the summary captured at login. It is not refreshed; use Me
// for current state.
func (s *Session) User() UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// RefreshToken returns the current refresh token, e.g. for persistence
// across process restarts.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// getValidToken returns a usable access token, rotating the pair first if
// the current one is about to expire.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	resp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", err
	}

	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - expiryBuffer)
	return s.accessToken, nil
}

func (s *Session) doAuthRequest(
	ctx context.Context,
	method, path string,
	body io.Reader,
	headers map[string]string,
) (*http.Response, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func (s *Session) postJSON(ctx context.Context, path string, in, out any, expectedStatus int) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, path, jsonBody(in),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return decodeJSON(resp, out, expectedStatus)
}

// Me fetches the current account state.
func (s *Session) Me(ctx context.Context) (UserSummary, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/users/me", nil, nil)
	if err != nil {
		return UserSummary{}, err
	}
	var out UserSummary
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return UserSummary{}, err
	}
	return out, nil
}

// ChangePassword rotates the account password. All refresh tokens are
// revoked server-side, including this session's; callers should log in
// again afterwards.
func (s *Session) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/users/me/password",
		jsonBody(ChangePasswordRequest{CurrentPassword: currentPassword, NewPassword: newPassword}),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// DeleteAccount soft-deletes the account and revokes every refresh token
// it holds.
func (s *Session) DeleteAccount(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/users/me", nil, nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// BeginMFASetup starts TOTP enrollment and returns the provisioning
// material to show the user.
func (s *Session) BeginMFASetup(ctx context.Context) (MFASetupResponse, error) {
	var out MFASetupResponse
	err := s.postJSON(ctx, "/v1/mfa/setup", struct{}{}, &out, http.StatusOK)
	return out, err
}

// CompleteMFASetup proves the authenticator works and enables MFA. The
// returned backup codes are shown exactly once.
func (s *Session) CompleteMFASetup(ctx context.Context, code string) ([]string, error) {
	var out BackupCodesResponse
	if err := s.postJSON(ctx, "/v1/mfa/setup/complete", MFACompleteRequest{Code: code}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

// RegenerateBackupCodes invalidates all current backup codes and returns a
// fresh set.
func (s *Session) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	var out BackupCodesResponse
	if err := s.postJSON(ctx, "/v1/mfa/backup-codes/regenerate", MFACompleteRequest{Code: code}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

// DisableMFA turns MFA off. Requires a fresh password re-verification.
func (s *Session) DisableMFA(ctx context.Context, password string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/disable",
		jsonBody(MFADisableRequest{Password: password}),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// AuditEntries fetches chain entries in the inclusive sequence range.
// Admin only.
func (s *Session) AuditEntries(ctx context.Context, from, to int64) (AuditEntriesResponse, error) {
	path := fmt.Sprintf("/v1/audit/entries?from=%d&to=%d", from, to)
	resp, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return AuditEntriesResponse{}, err
	}
	var out AuditEntriesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return AuditEntriesResponse{}, err
	}
	return out, nil
}

// VerifyAuditChain asks the server to verify its audit chain end to end.
// Admin only.
func (s *Session) VerifyAuditChain(ctx context.Context) (AuditVerifyResponse, error) {
	return s.verifyAudit(ctx, "/v1/audit/verify")
}

// VerifyAuditRange verifies the inclusive sequence range [from, to],
// anchored on the entry before `from`. Admin only.
func (s *Session) VerifyAuditRange(ctx context.Context, from, to int64) (AuditVerifyResponse, error) {
	return s.verifyAudit(ctx, fmt.Sprintf("/v1/audit/verify?from=%d&to=%d", from, to))
}

func (s *Session) verifyAudit(ctx context.Context, path string) (AuditVerifyResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return AuditVerifyResponse{}, err
	}
	var out AuditVerifyResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return AuditVerifyResponse{}, err
	}
	return out, nil
}
