package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meridianhq/meridian-auth/internal/auth/service"
	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/slogx"
)

// MFAHandler handles the TOTP enrollment lifecycle for authenticated users.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleSetup handles POST /v1/mfa/setup. Returns the secret and
// provisioning URL; MFA stays off until setup completes.
func (h *MFAHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID, ok := httpx.UserIDFromContext(ctx)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	enrollment, err := h.MFAService.BeginSetup(ctx, userID, httpx.MetaFromRequest(r))
	if err != nil {
		if errors.Is(err, service.ErrMFAAlreadyEnabled) {
			authsdk.NewAPIError(http.StatusConflict, "mfa_already_enabled",
				"mfa is already enabled for this account").WriteError(w)
			return
		}
		log.Error("mfa setup failed", "user_id", userID, "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.MFASetupResponse{
		Secret:  enrollment.Secret,
		URL:     enrollment.URL,
		Issuer:  enrollment.Issuer,
		Account: enrollment.Account,
	})
}

// HandleSetupComplete handles POST /v1/mfa/setup/complete. On success MFA
// is on and the response carries the backup codes, shown exactly once.
func (h *MFAHandler) HandleSetupComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID, ok := httpx.UserIDFromContext(ctx)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.MFACompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	codes, err := h.MFAService.CompleteSetup(ctx, userID, req.Code, httpx.MetaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			authsdk.ErrInvalidMFACode.WriteError(w)
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			authsdk.NewAPIError(http.StatusConflict, "mfa_already_enabled",
				"mfa is already enabled for this account").WriteError(w)
		case errors.Is(err, service.ErrMFANotEnabled):
			authsdk.NewAPIError(http.StatusBadRequest, "mfa_not_enrolled",
				"begin setup before completing it").WriteError(w)
		default:
			log.Error("mfa setup completion failed", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{BackupCodes: codes})
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes/regenerate.
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID, ok := httpx.UserIDFromContext(ctx)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.MFACompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	codes, err := h.MFAService.RegenerateBackupCodes(ctx, userID, req.Code, httpx.MetaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidTOTPCode):
			authsdk.ErrInvalidMFACode.WriteError(w)
		case errors.Is(err, service.ErrMFANotEnabled):
			authsdk.NewAPIError(http.StatusBadRequest, "mfa_not_enabled",
				"mfa is not enabled for this account").WriteError(w)
		default:
			log.Error("backup code regeneration failed", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.BackupCodesResponse{BackupCodes: codes})
}

// HandleDisable handles POST /v1/mfa/disable. Requires a fresh password
// re-verification on top of the session.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID, ok := httpx.UserIDFromContext(ctx)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req authsdk.MFADisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	err := h.MFAService.Disable(ctx, userID, req.Password, httpx.MetaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			authsdk.ErrInvalidCredentials.WriteError(w)
		case errors.Is(err, service.ErrMFANotEnabled):
			authsdk.NewAPIError(http.StatusBadRequest, "mfa_not_enabled",
				"mfa is not enabled for this account").WriteError(w)
		default:
			log.Error("mfa disable failed", "user_id", userID, "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
