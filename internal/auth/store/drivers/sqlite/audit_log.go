package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/meridianhq/meridian-auth/internal/auth/domain"
	"github.com/meridianhq/meridian-auth/internal/auth/store"
)

type auditLogRepo struct {
	db dbtx
}

const auditColumns = `seq, ts, actor_id, actor_type, action, outcome,
	resource_type, resource_id, before_state, after_state, metadata,
	prev_hash, hash`

func (r *auditLogRepo) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) (int64, error) {
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, actor_id, actor_type, action, outcome,
			resource_type, resource_id, before_state, after_state, metadata,
			prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC(), e.ActorID, e.ActorType, e.Action, e.Outcome,
		e.ResourceType, e.ResourceID, e.Before, e.After, metadata,
		e.PrevHash, e.Hash)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *auditLogRepo) GetLastAuditEntry(ctx context.Context) (domain.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY seq DESC LIMIT 1`)
	return scanAuditEntry(row.Scan)
}

func (r *auditLogRepo) ListAuditEntries(ctx context.Context, fromSeq, toSeq int64) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_log
		WHERE seq >= ? AND seq <= ?
		ORDER BY seq ASC`,
		fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanAuditEntry(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var metadata string

	err := scan(
		&e.Seq, &e.Timestamp, &e.ActorID, &e.ActorType, &e.Action, &e.Outcome,
		&e.ResourceType, &e.ResourceID, &e.Before, &e.After, &metadata,
		&e.PrevHash, &e.Hash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuditEntry{}, store.ErrNotFound
		}
		return domain.AuditEntry{}, err
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return domain.AuditEntry{}, err
		}
	}
	return e, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
