package http

import (
	"net/http"
	"strconv"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/service"
	"github.com/meridianhq/meridian-auth/pkg/authsdk"
	"github.com/meridianhq/meridian-auth/pkg/httpx"
	"github.com/meridianhq/meridian-auth/pkg/slogx"
)

// AuditHandler exposes the audit chain to administrators.
type AuditHandler struct {
	AuditService *service.AuditService
}

// HandleVerify handles GET /v1/audit/verify?from=&to=. Without parameters
// it walks the whole chain; with them it recomputes the given sequence
// range, anchored on the stored hash of the entry before `from`.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	from := parseSeqParam(r, "from", 1)
	to := parseSeqParam(r, "to", 0)
	if to > 0 && to < from {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	report, err := h.AuditService.VerifyChain(ctx, from, to)
	if err != nil {
		log.Error("audit chain verification failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.AuditVerifyResponse{
		Valid:    report.Valid,
		Entries:  report.Entries,
		BadSeq:   report.BadSeq,
		Detail:   report.Detail,
		LastHash: report.LastHash,
	})
}

// auditEntryDTO is the external projection of a chain entry.
type auditEntryDTO struct {
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

// HandleList handles GET /v1/audit/entries?from=&to=.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	from := parseSeqParam(r, "from", 1)
	to := parseSeqParam(r, "to", from+99)
	if to < from || to-from >= 1000 {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	entries, err := h.AuditService.List(ctx, from, to)
	if err != nil {
		log.Error("audit listing failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	out := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditDTO(e))
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func toAuditDTO(e domain.AuditEntry) auditEntryDTO {
	return auditEntryDTO{
		Seq:          e.Seq,
		Timestamp:    e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		ActorID:      e.ActorID,
		ActorType:    e.ActorType,
		Action:       e.Action,
		Outcome:      e.Outcome,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     e.Metadata,
		PrevHash:     e.PrevHash,
		Hash:         e.Hash,
	}
}

func parseSeqParam(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
