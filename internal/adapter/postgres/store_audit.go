package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/port/database"
)

// AppendAudit inserts a new audit entry. The table is append-only; there
// is deliberately no update or delete path.
func (s *Store) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	args, err := json.Marshal(entry.Args)
	if err != nil {
		return fmt.Errorf("marshal audit args: %w", err)
	}

	entry.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, tool, args, actor, outcome, summary, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.RequestID, entry.Tool, args, entry.Actor, entry.Outcome,
		nullIfEmpty(entry.Summary), nullIfEmpty(entry.Error), entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit for %s: %w", entry.RequestID, err)
	}
	return nil
}

// ListAudit reads the audit trail, newest first.
func (s *Store) ListAudit(ctx context.Context, filter database.AuditFilter) ([]audit.Entry, error) {
	query := `SELECT id, request_id, tool, args, actor, outcome,
		COALESCE(summary, ''), COALESCE(error, ''), duration_ms, created_at
		FROM audit_log`
	var conds []string
	var args []any
	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		conds = append(conds, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if filter.Tool != "" {
		args = append(args, filter.Tool)
		conds = append(conds, fmt.Sprintf("tool = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var rawArgs []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Tool, &rawArgs, &e.Actor,
			&e.Outcome, &e.Summary, &e.Error, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(rawArgs) > 0 {
			if err := json.Unmarshal(rawArgs, &e.Args); err != nil {
				return nil, fmt.Errorf("unmarshal audit args: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
