package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
)

const approvalColumns = `id, request_id, tool, payload, payload_hash, status, requested_by,
	COALESCE(approved_by, ''), created_at, approved_at, executed_at, expires_at, result, COALESCE(error, '')`

// CreateApproval inserts a new pending approval request. The unique
// request_id constraint makes concurrent creates for the same requestId
// collapse to one row; the loser gets domain.ErrConflict.
func (s *Store) CreateApproval(ctx context.Context, req *approval.Request) error {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO approval_requests (id, request_id, tool, payload, payload_hash, status, requested_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.RequestID, req.Tool, payload, req.PayloadHash, req.Status, req.RequestedBy, req.CreatedAt, req.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create approval for %s: %w", req.RequestID, domain.ErrConflict)
		}
		return fmt.Errorf("create approval for %s: %w", req.RequestID, err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	req, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval %s", id)
	}
	return req, nil
}

func (s *Store) GetApprovalByRequestID(ctx context.Context, requestID string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE request_id = $1`, requestID)
	req, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "get approval by request id %s", requestID)
	}
	return req, nil
}

// ListApprovals returns approval requests, newest first, optionally
// filtered by status.
func (s *Store) ListApprovals(ctx context.Context, status approval.Status) ([]approval.Request, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var reqs []approval.Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// ApproveApproval flips pending → approved in one statement. Zero rows
// affected means the precondition failed.
func (s *Store) ApproveApproval(ctx context.Context, id, approvedBy string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = $2, approved_by = $3, approved_at = $4
		 WHERE id = $1 AND status = $5`,
		id, approval.StatusApproved, approvedBy, at, approval.StatusPending)
	return execExpectOne(tag, err, "approve approval %s", id)
}

// RejectApproval flips pending → rejected.
func (s *Store) RejectApproval(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $2 WHERE id = $1 AND status = $3`,
		id, approval.StatusRejected, approval.StatusPending)
	return execExpectOne(tag, err, "reject approval %s", id)
}

// MarkApprovalExecuted flips approved → executed, recording the tool's
// result or error.
func (s *Store) MarkApprovalExecuted(ctx context.Context, id string, result any, execErr string, at time.Time) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests
		 SET status = $2, result = $3, error = $4, executed_at = $5
		 WHERE id = $1 AND status = $6`,
		id, approval.StatusExecuted, data, nullIfEmpty(execErr), at, approval.StatusApproved)
	return execExpectOne(tag, err, "mark approval %s executed", id)
}

// MarkApprovalExpired moves a pending or approved request to expired.
func (s *Store) MarkApprovalExpired(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $2
		 WHERE id = $1 AND status IN ($3, $4)`,
		id, approval.StatusExpired, approval.StatusPending, approval.StatusApproved)
	return execExpectOne(tag, err, "expire approval %s", id)
}

// ExpireOverdueApprovals sweeps every open request past its expiry.
func (s *Store) ExpireOverdueApprovals(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status = $1
		 WHERE status IN ($2, $3) AND expires_at <= $4`,
		approval.StatusExpired, approval.StatusPending, approval.StatusApproved, now)
	if err != nil {
		return 0, fmt.Errorf("expire overdue approvals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanApproval scans a row into an approval.Request.
func scanApproval(scanner interface{ Scan(dest ...any) error }) (*approval.Request, error) {
	var req approval.Request
	var payload, result []byte
	var approvedAt, executedAt sql.NullTime

	err := scanner.Scan(
		&req.ID, &req.RequestID, &req.Tool, &payload, &req.PayloadHash, &req.Status,
		&req.RequestedBy, &req.ApprovedBy, &req.CreatedAt, &approvedAt, &executedAt,
		&req.ExpiresAt, &result, &req.Error,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &req.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if approvedAt.Valid {
		req.ApprovedAt = approvedAt.Time
	}
	if executedAt.Valid {
		req.ExecutedAt = executedAt.Time
	}
	return &req, nil
}
