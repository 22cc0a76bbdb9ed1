package domain

// MFAChallenge is returned when primary credentials checked out but a second
// factor is still required. The challenge token is a short-lived signed token
// usable only to complete MFA, never as an access token.
type MFAChallenge struct {
	MFARequired    bool        `json:"mfa_required"` // always true
	ChallengeToken string      `json:"challenge_token"`
	Methods        []string    `json:"methods"` // e.g. ["totp", "backup_code"]
	User           UserSummary `json:"user"`    // partial summary for UI display
}

// MFAEnrollment is returned by setup initiation. The secret and provisioning
// URI are shown to the user once for authenticator enrollment.
type MFAEnrollment struct {
	Secret  string `json:"secret"`           // Base32 encoded TOTP secret
	URL     string `json:"provisioning_url"` // otpauth:// URL for QR rendering
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}
