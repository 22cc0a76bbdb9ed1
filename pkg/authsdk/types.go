package authsdk

// UserSummary mirrors the server's external user representation.
type UserSummary struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds until access expiry
}

// SessionResponse is a fully authenticated login result.
type SessionResponse struct {
	User   UserSummary   `json:"user"`
	Tokens TokenResponse `json:"tokens"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// LoginRequest begins a password login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MFAVerifyRequest completes an MFA login with a TOTP or backup code.
type MFAVerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest revokes the refresh token family.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest rotates the account password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// MFASetupResponse is the enrollment material returned by setup initiation.
type MFASetupResponse struct {
	Secret  string `json:"secret"`
	URL     string `json:"provisioning_url"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

// MFACompleteRequest finishes enrollment with a code from the authenticator.
type MFACompleteRequest struct {
	Code string `json:"code"`
}

// BackupCodesResponse carries freshly generated backup codes. They are
// shown exactly once.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// MFADisableRequest turns MFA off; the password must be presented fresh.
type MFADisableRequest struct {
	Password string `json:"password"`
}

// AuditVerifyResponse reports the outcome of an audit chain verification.
type AuditVerifyResponse struct {
	Valid    bool   `json:"valid"`
	Entries  int64  `json:"entries"`
	BadSeq   int64  `json:"bad_seq,omitempty"`
	Detail   string `json:"detail,omitempty"`
	LastHash string `json:"last_hash,omitempty"`
}

// AuditEntry is one link of the audit chain as returned by the entries
// listing.
type AuditEntry struct {
	Seq          int64             `json:"seq"`
	Timestamp    string            `json:"timestamp"`
	ActorID      string            `json:"actor_id"`
	ActorType    string            `json:"actor_type"`
	Action       string            `json:"action"`
	Outcome      string            `json:"outcome"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PrevHash     string            `json:"prev_hash"`
	Hash         string            `json:"hash"`
}

// AuditEntriesResponse wraps a page of audit entries.
type AuditEntriesResponse struct {
	Entries []AuditEntry `json:"entries"`
}
