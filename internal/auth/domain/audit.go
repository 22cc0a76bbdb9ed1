package domain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"
)

// GenesisHash is the previous-hash value of the first chain entry.
const GenesisHash = "genesis"

// Audit actions recorded by the auth core.
const (
	AuditActionRegister       = "user.register"
	AuditActionLogin          = "user.login"
	AuditActionLoginMFA       = "user.login_mfa"
	AuditActionLogout         = "user.logout"
	AuditActionPasswordChange = "user.password_change"
	AuditActionUserDelete     = "user.delete"
	AuditActionTokenRefresh   = "token.refresh"
	AuditActionTokenReuse     = "token.reuse_detected"
	AuditActionMFASetupBegin  = "mfa.setup_begin"
	AuditActionMFASetupDone   = "mfa.setup_complete"
	AuditActionMFADisabled    = "mfa.disabled"
	AuditActionMFABackupUsed  = "mfa.backup_code_used"
	AuditActionMFABackupRegen = "mfa.backup_codes_regenerated"
)

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
	// AuditOutcomeLocked records a login rejected by the lockout window.
	// Externally the caller sees the same generic failure.
	AuditOutcomeLocked = "locked"
	// AuditOutcomeExpired records a refresh attempt with a naturally
	// expired token, as opposed to a detected reuse.
	AuditOutcomeExpired = "expired"
	// AuditOutcomeReuse records a detected refresh-token reuse.
	AuditOutcomeReuse = "reuse_detected"
)

// ActorUnknown is recorded for failed logins against emails that resolve to
// no account, so lockout forensics work even for nonexistent users.
const ActorUnknown = "unknown"

// AuditEntry is one append-only, hash-chained log record. Entries are never
// updated or deleted; each entry's Hash covers the previous entry's Hash, so
// any retroactive edit breaks verification of everything downstream.
type AuditEntry struct {
	Seq          int64             // assigned by the store on append
	Timestamp    time.Time
	ActorID      string            // user id or ActorUnknown
	ActorType    string            // "user", "system"
	Action       string
	Outcome      string
	ResourceType string
	ResourceID   string
	Before       string            // optional state snapshot (JSON)
	After        string            // optional state snapshot (JSON)
	Metadata     map[string]string // request metadata: ip, user_agent, email, ...
	PrevHash     string
	Hash         string
}

// hashPayload is the canonical serialization of an entry minus its own hash.
// Field order is fixed by the struct, so marshaling is deterministic.
type hashPayload struct {
	Timestamp    int64             `json:"ts"`
	ActorID      string            `json:"actor_id"`
	ActorType    string            `json:"actor_type"`
	Action       string            `json:"action"`
	Outcome      string            `json:"outcome"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Before       string            `json:"before,omitempty"`
	After        string            `json:"after,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	PrevHash     string            `json:"prev_hash"`
}

// ComputeHash returns the chain hash for the entry given its PrevHash:
// SHA-256 over the canonical JSON of everything except Hash itself. Map keys
// are sorted by encoding/json, so the digest is stable.
func (e AuditEntry) ComputeHash() string {
	payload := hashPayload{
		Timestamp:    e.Timestamp.UTC().UnixMicro(),
		ActorID:      e.ActorID,
		ActorType:    e.ActorType,
		Action:       e.Action,
		Outcome:      e.Outcome,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Before:       e.Before,
		After:        e.After,
		Metadata:     e.Metadata,
		PrevHash:     e.PrevHash,
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		// Only map values can fail to marshal and ours are strings.
		panic("domain: audit entry not serializable: " + err.Error())
	}

	sum := sha256.Sum256(buf)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
