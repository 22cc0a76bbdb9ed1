package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
	"github.com/meridianhq/meridian-auth/pkg/cryptox"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeCount = 10                   // number of backup codes per generation
	backupCodeBytes = cryptox.TokenSize128 // 128-bit entropy per code
)

var (
	ErrInvalidTOTPCode   = errors.New("invalid_totp_code")
	ErrMFANotEnabled     = errors.New("mfa_not_enabled")
	ErrMFAAlreadyEnabled = errors.New("mfa_already_enabled")
)

// MFAService handles TOTP enrollment lifecycle: setup, verification,
// backup-code management, and disabling. Login-time verification lives in
// AuthService.
type MFAService struct {
	Store  store.Store
	Audit  *AuditService
	Issuer string // issuer label shown in authenticator apps
}

// BeginSetup generates a TOTP secret for the user and returns the
// provisioning material. MFA stays disabled until CompleteSetup proves the
// user's authenticator produces valid codes; restarting setup simply
// overwrites the pending secret.
func (s *MFAService) BeginSetup(ctx context.Context, userID string, meta httpx.RequestMeta) (domain.MFAEnrollment, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}
	if u.MFAActive() {
		return domain.MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	if err := s.Store.Users().UpdateMFASecret(ctx, userID, key.Secret()); err != nil {
		return domain.MFAEnrollment{}, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   domain.AuditActionMFASetupBegin,
		Outcome:  domain.AuditOutcomeSuccess,
		Before:   stateJSON("mfa", "disabled"),
		After:    stateJSON("mfa", "pending"),
		Metadata: metaMap(meta, nil),
	}); err != nil {
		return domain.MFAEnrollment{}, err
	}

	return domain.MFAEnrollment{
		Secret:  key.Secret(),
		URL:     key.URL(),
		Issuer:  s.Issuer,
		Account: u.Email,
	}, nil
}

// CompleteSetup verifies a code from the user's authenticator against the
// pending secret and, if valid, enables MFA and returns freshly generated
// backup codes. The plaintext codes are shown exactly once; only their
// fingerprints are stored.
func (s *MFAService) CompleteSetup(ctx context.Context, userID, code string, meta httpx.RequestMeta) ([]string, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.MFAActive() {
		return nil, ErrMFAAlreadyEnabled
	}
	if !u.MFAPending() {
		return nil, ErrMFANotEnabled
	}

	if !totp.Validate(code, *u.MFASecret) {
		if aerr := s.Audit.Record(ctx, domain.AuditEntry{
			ActorID:  u.ID,
			Action:   domain.AuditActionMFASetupDone,
			Outcome:  domain.AuditOutcomeFailure,
			Metadata: metaMap(meta, nil),
		}); aerr != nil {
			return nil, aerr
		}
		return nil, ErrInvalidTOTPCode
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// Replace any leftovers from a previous enrollment.
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		for _, c := range codes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(c)); err != nil {
				return err
			}
		}
		return tx.Users().EnableMFA(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   domain.AuditActionMFASetupDone,
		Outcome:  domain.AuditOutcomeSuccess,
		Before:   stateJSON("mfa", "pending"),
		After:    stateJSON("mfa", "enabled"),
		Metadata: metaMap(meta, nil),
	}); err != nil {
		return nil, err
	}

	return codes, nil
}

// RegenerateBackupCodes invalidates all existing backup codes and issues a
// new set, after re-proving possession of the authenticator.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, code string, meta httpx.RequestMeta) ([]string, error) {
	if err := s.verifyActiveTOTP(ctx, userID, code); err != nil {
		if errors.Is(err, ErrInvalidTOTPCode) {
			if aerr := s.Audit.Record(ctx, domain.AuditEntry{
				ActorID:  userID,
				Action:   domain.AuditActionMFABackupRegen,
				Outcome:  domain.AuditOutcomeFailure,
				Metadata: metaMap(meta, nil),
			}); aerr != nil {
				return nil, aerr
			}
		}
		return nil, err
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		for _, c := range codes {
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, cryptox.FingerprintToken(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  userID,
		Action:   domain.AuditActionMFABackupRegen,
		Outcome:  domain.AuditOutcomeSuccess,
		Metadata: metaMap(meta, nil),
	}); err != nil {
		return nil, err
	}

	return codes, nil
}

// Disable turns MFA off. It requires a fresh password re-verification, not
// merely an active session, so a stolen session token cannot silently
// downgrade the account. The authenticator itself is deliberately not
// required: a user who lost their device must still be able to disable MFA
// with the password alone.
func (s *MFAService) Disable(ctx context.Context, userID, password string, meta httpx.RequestMeta) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAActive() {
		return ErrMFANotEnabled
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		if aerr := s.Audit.Record(ctx, domain.AuditEntry{
			ActorID:  u.ID,
			Action:   domain.AuditActionMFADisabled,
			Outcome:  domain.AuditOutcomeFailure,
			Metadata: metaMap(meta, nil),
		}); aerr != nil {
			return aerr
		}
		return ErrInvalidCredentials
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		return tx.Users().DisableMFA(ctx, userID)
	})
	if err != nil {
		return err
	}

	return s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   domain.AuditActionMFADisabled,
		Outcome:  domain.AuditOutcomeSuccess,
		Before:   stateJSON("mfa", "enabled"),
		After:    stateJSON("mfa", "disabled"),
		Metadata: metaMap(meta, nil),
	})
}

// CountBackupCodes returns how many unused backup codes the user has left.
func (s *MFAService) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	return s.Store.BackupCodes().CountUserBackupCodes(ctx, userID)
}

func (s *MFAService) verifyActiveTOTP(ctx context.Context, userID, code string) error {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAActive() {
		return ErrMFANotEnabled
	}
	if !totp.Validate(code, *u.MFASecret) {
		return ErrInvalidTOTPCode
	}
	return nil
}

func generateBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		c, err := cryptox.GenerateToken(backupCodeBytes)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes[i] = c
	}
	return codes, nil
}
