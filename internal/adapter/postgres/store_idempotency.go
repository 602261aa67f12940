package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetCachedResponse returns the serialized response cached for requestID.
// Entries past their retention window are treated as absent.
func (s *Store) GetCachedResponse(ctx context.Context, requestID string) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT response FROM idempotency_results
		 WHERE request_id = $1 AND expires_at > now()`, requestID)

	var response []byte
	if err := row.Scan(&response); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached response %s: %w", requestID, err)
	}
	return response, true, nil
}

// StoreResponse persists a response under requestID. The first finisher
// wins: a concurrent duplicate insert is a no-op, never an error.
func (s *Store) StoreResponse(ctx context.Context, requestID string, response []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_results (request_id, response, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (request_id) DO NOTHING`,
		requestID, response, expiresAt)
	if err != nil {
		return fmt.Errorf("store response %s: %w", requestID, err)
	}
	return nil
}

// PurgeExpiredResponses deletes cache entries past retention.
func (s *Store) PurgeExpiredResponses(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_results WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired responses: %w", err)
	}
	return tag.RowsAffected(), nil
}
