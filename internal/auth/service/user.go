package service

import (
	"context"
	"errors"
	"strings"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
	"github.com/meridianhq/meridian-auth/pkg/cryptox"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/idx"
)

// Floor on password length. Kept deliberately permissive; the lockout and
// Argon2id cost are the real brute-force defenses.
const minPasswordLength = 8

var (
	ErrEmailTaken   = errors.New("email_taken")
	ErrWeakPassword = errors.New("weak_password")
)

// UserService handles account lifecycle: registration, password change, and
// soft deletion.
type UserService struct {
	Store  store.Store
	Tokens *TokenService
	Audit  *AuditService
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// Register creates a new account. Emails are stored lowercase so lookups
// are case-insensitive.
func (s *UserService) Register(ctx context.Context, email, displayName, password string, meta httpx.RequestMeta) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < minPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}

	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         "user",
	}

	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:      u.ID,
		Action:       domain.AuditActionRegister,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: "user",
		ResourceID:   u.ID,
		Metadata:     metaMap(meta, map[string]string{"email": email}),
	}); err != nil {
		return domain.User{}, err
	}

	return u, nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every refresh token the user holds. Sessions minted before the
// change die with their families; only the access tokens ride out their
// remaining minutes.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, meta httpx.RequestMeta) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := cryptox.VerifyPassword(currentPassword, u.PasswordHash); err != nil {
		if aerr := s.Audit.Record(ctx, domain.AuditEntry{
			ActorID:  u.ID,
			Action:   domain.AuditActionPasswordChange,
			Outcome:  domain.AuditOutcomeFailure,
			Metadata: metaMap(meta, nil),
		}); aerr != nil {
			return aerr
		}
		return ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return err
	}

	if err := s.Store.Users().UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	if err := s.Tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}

	return s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:  u.ID,
		Action:   domain.AuditActionPasswordChange,
		Outcome:  domain.AuditOutcomeSuccess,
		Metadata: metaMap(meta, nil),
	})
}

// Delete soft-deletes the account and revokes all its refresh tokens. The
// row remains so audit lineage stays resolvable.
func (s *UserService) Delete(ctx context.Context, userID string, meta httpx.RequestMeta) error {
	if err := s.Store.Users().SoftDeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := s.Tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	return s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:      userID,
		Action:       domain.AuditActionUserDelete,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: "user",
		ResourceID:   userID,
		Metadata:     metaMap(meta, nil),
	})
}
