package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/meridianhq/meridian-auth/pkg/httpx"
)

// Error codes shared by the server and this SDK.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeMFARequired        = "mfa_required"
	ErrorCodeInvalidMFACode     = "invalid_mfa_code"
	ErrorCodeInvalidChallenge   = "invalid_mfa_challenge"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInvalidRefresh     = "invalid_refresh_token"
	ErrorCodeEmailTaken         = "email_taken"
	ErrorCodeWeakPassword       = "weak_password"
	ErrorCodeRateLimited        = "rate_limit_exceeded"
	ErrorCodeForbidden          = "forbidden"
	ErrorCodeServerError        = "server_error"
)

// APIError is the service's standard error envelope. It implements the
// error interface and is used both by the server to write responses and by
// the SDK to surface them.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WriteError writes the error to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

// NewAPIError builds a custom APIError.
func NewAPIError(statusCode int, code, description string) *APIError {
	return &APIError{StatusCode: statusCode, Code: code, Description: description}
}

// Predefined errors. Credential-shaped failures share one envelope so
// callers cannot distinguish unknown email, wrong password, or a locked
// account.
var (
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid email or password",
	}

	ErrInvalidMFACode = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidMFACode,
		Description: "invalid or expired code",
	}

	ErrInvalidChallenge = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidChallenge,
		Description: "invalid or expired challenge token",
	}

	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid, expired or revoked",
	}

	ErrInvalidRefresh = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidRefresh,
		Description: "the refresh token is invalid, expired or revoked",
	}

	ErrEmailTaken = &APIError{
		StatusCode:  http.StatusConflict,
		Code:        ErrorCodeEmailTaken,
		Description: "an account with this email already exists",
	}

	ErrWeakPassword = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeWeakPassword,
		Description: "password does not meet the minimum requirements",
	}

	ErrForbidden = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeForbidden,
		Description: "insufficient privileges",
	}

	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}

	ErrMethodNotAllowed = &APIError{
		StatusCode:  http.StatusMethodNotAllowed,
		Code:        ErrorCodeInvalidRequest,
		Description: "method not allowed",
	}
)

// MFARequiredError signals that primary credentials were accepted but a
// second factor is pending. Returned with HTTP 409 Conflict: the request
// was valid, the account state demands an extra step.
type MFARequiredError struct {
	// ChallengeToken is presented back when submitting the second factor.
	ChallengeToken string `json:"challenge_token"`

	// Methods lists the accepted completion methods,
	// e.g. ["totp", "backup_code"].
	Methods []string `json:"methods"`
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("mfa required: available methods=%v", e.Methods)
}

// WriteError writes the MFA challenge as a 409 Conflict.
func (e *MFARequiredError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":             ErrorCodeMFARequired,
		"error_description": "multi-factor authentication is required to complete this request",
		"challenge_token":   e.ChallengeToken,
		"methods":           e.Methods,
	})
}

// parseErrorResponse turns a non-2xx response body into a typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusConflict {
		var mfaResp struct {
			Error          string   `json:"error"`
			ChallengeToken string   `json:"challenge_token"`
			Methods        []string `json:"methods"`
		}
		if err := json.Unmarshal(body, &mfaResp); err == nil {
			if mfaResp.Error == ErrorCodeMFARequired && mfaResp.ChallengeToken != "" {
				return &MFARequiredError{
					ChallengeToken: mfaResp.ChallengeToken,
					Methods:        mfaResp.Methods,
				}
			}
		}
	}

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
