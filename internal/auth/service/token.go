package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
	"github.com/meridianhq/meridian-auth/pkg/cryptox"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/idx"
	"github.com/meridianhq/meridian-auth/pkg/jwtx"
	"github.com/meridianhq/meridian-auth/pkg/slogx"
)

var (
	ErrInvalidRefresh = errors.New("invalid_refresh_token")
	ErrRefreshExpired = errors.New("refresh_token_expired")
	ErrRefreshReused  = errors.New("refresh_token_reused")
)

// TokenService issues access/refresh token pairs and implements refresh
// rotation with family-wide reuse detection. Every login spawns a fresh
// token family; rotation extends the family, and presenting a dead member
// of a family kills the whole family.
type TokenService struct {
	Store      store.Store
	Audit      *AuditService
	Signer     jwtx.Signer
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issue mints a token pair for a freshly authenticated user, starting a new
// refresh-token family. The family id doubles as the session id on the
// access token.
func (s *TokenService) Issue(ctx context.Context, u domain.User, meta httpx.RequestMeta) (domain.TokenPair, error) {
	now := time.Now().UTC()
	familyID := idx.New().String()

	accessToken, err := s.signAccess(u, familyID, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}

	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		FamilyID:  familyID,
		Status:    domain.TokenStatusActive,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		ExpiresAt: now.Add(s.RefreshTTL),
	}

	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued within the same family.
//
// Presenting an already-rotated or reuse-revoked token is treated as theft:
// the entire family is revoked, so both the legitimate holder and the thief
// lose access and a fresh login is forced. A merely expired token revokes
// the family without the theft alarm.
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque string, meta httpx.RequestMeta) (domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefresh
		}
		return domain.TokenPair{}, err
	}

	switch rt.Status {
	case domain.TokenStatusRotated, domain.TokenStatusReuseRevoked:
		return domain.TokenPair{}, s.handleReuse(ctx, rt, meta)
	case domain.TokenStatusRevoked:
		// Administratively revoked (logout, password change). Not theft.
		return domain.TokenPair{}, ErrInvalidRefresh
	}

	if now.After(rt.ExpiresAt) {
		if err := s.Store.RefreshTokens().RevokeFamily(ctx, rt.FamilyID, domain.TokenStatusRevoked); err != nil {
			return domain.TokenPair{}, err
		}
		if err := s.Audit.Record(ctx, domain.AuditEntry{
			ActorID:      rt.UserID,
			Action:       domain.AuditActionTokenRefresh,
			Outcome:      domain.AuditOutcomeExpired,
			ResourceType: "token_family",
			ResourceID:   rt.FamilyID,
			Metadata:     metaMap(meta, nil),
		}); err != nil {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, ErrRefreshExpired
	}

	u, err := s.Store.Users().GetUserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidRefresh
		}
		return domain.TokenPair{}, err
	}

	accessToken, err := s.signAccess(u, rt.FamilyID, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	newOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}

	newRT := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: cryptox.FingerprintToken(newOpaque),
		FamilyID:  rt.FamilyID,
		Status:    domain.TokenStatusActive,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		ExpiresAt: now.Add(s.RefreshTTL),
	}

	// Retire the old token and create its successor atomically. MarkRotated
	// only succeeds for the still-active row, so of two racing refreshes of
	// the same token exactly one wins; the loser falls into reuse handling.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().MarkRotated(ctx, rt.ID); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, newRT)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rt.Status = domain.TokenStatusRotated
			return domain.TokenPair{}, s.handleReuse(ctx, rt, meta)
		}
		return domain.TokenPair{}, err
	}

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:      u.ID,
		Action:       domain.AuditActionTokenRefresh,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: "token_family",
		ResourceID:   rt.FamilyID,
		Metadata:     metaMap(meta, nil),
	}); err != nil {
		return domain.TokenPair{}, err
	}

	l.Debug("refresh token rotated",
		slog.String("user_id", u.ID),
		slog.String("family_id", rt.FamilyID),
	)

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// RevokeByToken handles logout: the presented refresh token identifies the
// user, and every live token that user holds is revoked, across all
// families. Logout ends the user's presence everywhere, not just on the
// device that asked. An unknown or already-dead token is not an error here:
// logout is idempotent from the caller's point of view.
func (s *TokenService) RevokeByToken(ctx context.Context, refreshOpaque string, meta httpx.RequestMeta) error {
	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, rt.UserID); err != nil {
		return err
	}

	return s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:      rt.UserID,
		Action:       domain.AuditActionLogout,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: "user",
		ResourceID:   rt.UserID,
		Metadata:     metaMap(meta, nil),
	})
}

// RevokeAllForUser revokes every live refresh token the user holds, across
// all families. Used on password change and account deletion.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID)
}

// handleReuse tears down the family of a token presented after retirement
// and records the theft signal. It always returns ErrRefreshReused unless
// the teardown itself failed.
func (s *TokenService) handleReuse(ctx context.Context, rt domain.RefreshToken, meta httpx.RequestMeta) error {
	l := slogx.FromContext(ctx)

	if err := s.Store.RefreshTokens().RevokeFamily(ctx, rt.FamilyID, domain.TokenStatusReuseRevoked); err != nil {
		return err
	}

	l.Warn("refresh token reuse detected, family revoked",
		slog.String("user_id", rt.UserID),
		slog.String("family_id", rt.FamilyID),
		slog.String("ip", meta.IP),
	)

	if err := s.Audit.Record(ctx, domain.AuditEntry{
		ActorID:      rt.UserID,
		Action:       domain.AuditActionTokenReuse,
		Outcome:      domain.AuditOutcomeReuse,
		ResourceType: "token_family",
		ResourceID:   rt.FamilyID,
		Metadata:     metaMap(meta, map[string]string{"token_status": rt.Status}),
	}); err != nil {
		return err
	}

	return ErrRefreshReused
}

func (s *TokenService) signAccess(u domain.User, sessionID string, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(
		u.ID,        // subject
		sessionID,   // session id, shared with the refresh family
		u.Role,      // role
		u.Email,     // email
		s.AccessTTL, // token lifetime
		s.Issuer,    // issuer
		now,         // current time
	)
	return s.Signer.Sign(claims)
}
