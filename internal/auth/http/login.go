package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/service"
	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/slogx"
)

// LoginHandler handles password login and MFA completion.
type LoginHandler struct {
	AuthService *service.AuthService
}

// HandleLogin handles POST /v1/auth/login.
//
// Accounts without MFA get a full session. MFA-enabled accounts get a 409
// carrying a short-lived challenge token instead; the login finishes at
// /v1/auth/mfa/verify or /v1/auth/mfa/backup.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	session, err := h.AuthService.Login(ctx, req.Email, req.Password, httpx.MetaFromRequest(r))
	if err != nil {
		var mfaErr *service.MFARequiredError
		switch {
		case errors.As(err, &mfaErr):
			mfaErr.WriteError(w)
		case errors.Is(err, service.ErrInvalidCredentials),
			errors.Is(err, service.ErrAccountLocked):
			// Lockout state is never exposed to unauthenticated callers;
			// locked accounts answer exactly like wrong passwords.
			authsdk.ErrInvalidCredentials.WriteError(w)
		default:
			log.Error("login failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeSession(w, session)
}

// HandleMFAVerify handles POST /v1/auth/mfa/verify (TOTP codes).
func (h *LoginHandler) HandleMFAVerify(w http.ResponseWriter, r *http.Request) {
	h.completeMFA(w, r, h.AuthService.VerifyMFACode)
}

// HandleMFABackup handles POST /v1/auth/mfa/backup (single-use backup codes).
func (h *LoginHandler) HandleMFABackup(w http.ResponseWriter, r *http.Request) {
	h.completeMFA(w, r, h.AuthService.VerifyBackupCode)
}

func (h *LoginHandler) completeMFA(
	w http.ResponseWriter,
	r *http.Request,
	verify func(ctx context.Context, challengeToken, code string, meta httpx.RequestMeta) (*domain.Session, error),
) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.MFAVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	session, err := verify(ctx, req.ChallengeToken, req.Code, httpx.MetaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidChallenge):
			authsdk.ErrInvalidChallenge.WriteError(w)
		case errors.Is(err, service.ErrInvalidMFACode),
			errors.Is(err, service.ErrAccountLocked):
			// A lockout tripped by code guessing answers like a wrong code.
			authsdk.ErrInvalidMFACode.WriteError(w)
		default:
			log.Error("mfa verification failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	writeSession(w, session)
}

func writeSession(w http.ResponseWriter, s *domain.Session) {
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		User: authsdk.UserSummary{
			ID:          s.User.ID,
			Email:       s.User.Email,
			DisplayName: s.User.DisplayName,
			Role:        s.User.Role,
			MFAEnabled:  s.User.MFAEnabled,
		},
		Tokens: tokenResponse(s.Tokens),
	})
}

func tokenResponse(p domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    int64(p.ExpiresIn / time.Second),
	}
}
