package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/meridianhq/meridian-auth/pkg/cryptox"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/jwtx"
	"github.com/meridianhq/meridian-auth/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultLockoutThreshold is the number of consecutive failed attempts
	// that trips the lockout.
	DefaultLockoutThreshold = 5
	// DefaultLockoutWindow is how long a tripped lockout lasts.
	DefaultLockoutWindow = 15 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")
	ErrInvalidChallenge   = errors.New("invalid_mfa_challenge")
	ErrInvalidMFACode     = errors.New("invalid_mfa_code")
)

// MFARequiredError is an alias to the SDK's MFARequiredError so handlers and
// SDK consumers share one type.
type MFARequiredError = authsdk.MFARequiredError

// AuthService owns the login flow: password verification, brute-force
// lockout, and the MFA step-up handshake. Fully authenticated logins
// delegate token issuance to TokenService.
type AuthService struct {
	Store    store.Store
	Tokens   *TokenService
	Audit    *AuditService
	Signer   jwtx.Signer
	Verifier jwtx.Verifier
	Issuer   string

	ChallengeTTL     time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
}

// Login verifies primary credentials. For users without MFA it returns a
// full session. For MFA-enabled users it returns an MFARequiredError
// carrying a short-lived challenge token; no session tokens are issued
// until the second factor checks out.
//
// Failures are deliberately indistinguishable to the caller: unknown email,
// wrong password, and locked account all collapse to one generic response
// at the HTTP boundary, with a dummy hash on the unknown-email and locked
// paths to keep response timing comparable. The locked state stays distinct
// internally (ErrAccountLocked, audit outcome "locked") so forensics can
// tell the cases apart.
func (s *AuthService) Login(ctx context.Context, email, password string, meta httpx.RequestMeta) (*domain.Session, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			cryptox.DummyVerify()
			if aerr := s.Audit.Record(ctx, domain.AuditEntry{
				ActorID:  domain.ActorUnknown,
				Action:   domain.AuditActionLogin,
				Outcome:  domain.AuditOutcomeFailure,
				Metadata: metaMap(meta, map[string]string{"email": email}),
			}); aerr != nil {
				return nil, aerr
			}
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// A locked account rejects before the real password check. The password
	// has no bearing on the outcome until the window lapses; the dummy hash
	// keeps the latency in line with the other rejection paths.
	if u.LockedAt(now) {
		cryptox.DummyVerify()
		if aerr := s.Audit.Record(ctx, domain.AuditEntry{
			ActorID:  u.ID,
			Action:   domain.AuditActionLogin,
			Outcome:  domain.AuditOutcomeLocked,
			Metadata: metaMap(meta, nil),
		}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrAccountLocked
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		return nil, s.recordLoginFailure(ctx, u, domain.AuditActionLogin, meta)
	}

	if u.MFAActive() {
		challenge, err := s.signChallenge(u, now)
		if err != nil {
			return nil, err
		}
		l.Info("login requires second factor", slog.String("user_id", u.ID))
		return nil, &MFARequiredError{
			ChallengeToken: challenge,
			Methods:        []string{"totp", "backup_code"},
		}
	}

	return s.completeLogin(ctx, u, domain.AuditActionLogin, meta, nil)
}

// VerifyMFACode completes an MFA login with a TOTP code.
func (s *AuthService) VerifyMFACode(ctx context.Context, challengeToken, code string, meta httpx.RequestMeta) (*domain.Session, error) {
	u, err := s.resolveChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	if !totp.Validate(code, *u.MFASecret) {
		return nil, s.recordLoginFailure(ctx, u, domain.AuditActionLoginMFA, meta)
	}

	return s.completeLogin(ctx, u, domain.AuditActionLoginMFA, meta,
		map[string]string{"method": "totp"})
}

// VerifyBackupCode completes an MFA login by redeeming a single-use backup
// code. The code is consumed atomically; a second presentation of the same
// code fails even if it races the first.
func (s *AuthService) VerifyBackupCode(ctx context.Context, challengeToken, code string, meta httpx.RequestMeta) (*domain.Session, error) {
	u, err := s.resolveChallenge(ctx, challengeToken)
	if err != nil {
		return nil, err
	}

	consumed, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, u.ID, cryptox.FingerprintToken(code))
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, s.recordLoginFailure(ctx, u, domain.AuditActionLoginMFA, meta)
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   domain.AuditActionMFABackupUsed,
		Outcome:  domain.AuditOutcomeSuccess,
		Metadata: metaMap(meta, nil),
	}); err != nil {
		return nil, err
	}

	return s.completeLogin(ctx, u, domain.AuditActionLoginMFA, meta,
		map[string]string{"method": "backup_code"})
}

// resolveChallenge validates an MFA challenge token and loads its subject.
// Expired and malformed challenges are indistinguishable to the caller.
func (s *AuthService) resolveChallenge(ctx context.Context, challengeToken string) (domain.User, error) {
	now := time.Now().UTC()

	claims, err := s.Verifier.Verify(challengeToken)
	if err != nil {
		return domain.User{}, ErrInvalidChallenge
	}
	if err := claims.ValidatePurpose(jwtx.PurposeMFAChallenge); err != nil {
		return domain.User{}, ErrInvalidChallenge
	}

	u, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrInvalidChallenge
		}
		return domain.User{}, err
	}

	// The lockout applies to the second factor too, otherwise a stolen
	// password plus a challenge token would allow unbounded code guessing.
	if u.LockedAt(now) {
		return domain.User{}, ErrAccountLocked
	}
	if !u.MFAActive() {
		return domain.User{}, ErrInvalidChallenge
	}

	return u, nil
}

// recordLoginFailure bumps the consecutive-failure counter, trips the
// lockout at the threshold, and records the audit entry. It returns the
// error the caller should surface.
func (s *AuthService) recordLoginFailure(ctx context.Context, u domain.User, action string, meta httpx.RequestMeta) error {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	count, err := s.Store.Users().RecordFailedLogin(ctx, u.ID)
	if err != nil {
		return err
	}

	outcome := domain.AuditOutcomeFailure
	surface := ErrInvalidCredentials
	if action == domain.AuditActionLoginMFA {
		surface = ErrInvalidMFACode
	}

	var before, after string
	if count >= s.lockoutThreshold() {
		until := now.Add(s.lockoutWindow())
		if err := s.Store.Users().SetLockout(ctx, u.ID, until); err != nil {
			return err
		}
		outcome = domain.AuditOutcomeLocked
		before = stateJSON("account", "active")
		after = stateJSON("account", "locked")
		l.Warn("account locked after repeated failures",
			slog.String("user_id", u.ID),
			slog.Int("failed_attempts", count),
			slog.Time("locked_until", until),
		)
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   action,
		Outcome:  outcome,
		Before:   before,
		After:    after,
		Metadata: metaMap(meta, map[string]string{"failed_attempts": strconv.Itoa(count)}),
	}); err != nil {
		return err
	}

	return surface
}

// completeLogin resets the failure counter, issues a token pair, and writes
// the success audit entry.
func (s *AuthService) completeLogin(ctx context.Context, u domain.User, action string, meta httpx.RequestMeta, extra map[string]string) (*domain.Session, error) {
	if err := s.Store.Users().ResetLoginAttempts(ctx, u.ID); err != nil {
		return nil, err
	}

	pair, err := s.Tokens.Issue(ctx, u, meta)
	if err != nil {
		return nil, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   action,
		Outcome:  domain.AuditOutcomeSuccess,
		Metadata: metaMap(meta, extra),
	}); err != nil {
		return nil, err
	}

	return &domain.Session{User: u.Summary(), Tokens: pair}, nil
}

func (s *AuthService) signChallenge(u domain.User, now time.Time) (string, error) {
	ttl := s.ChallengeTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultChallengeTTL
	}
	return s.Signer.Sign(jwtx.NewChallengeClaims(u.ID, s.Issuer, ttl, now))
}

func (s *AuthService) lockoutThreshold() int {
	if s.LockoutThreshold > 0 {
		return s.LockoutThreshold
	}
	return DefaultLockoutThreshold
}

func (s *AuthService) lockoutWindow() time.Duration {
	if s.LockoutWindow > 0 {
		return s.LockoutWindow
	}
	return DefaultLockoutWindow
}
