package postgres

import (
	"context"
	"fmt"
	"time"
)

// AcquireLock inserts the exclusivity marker for requestID. One atomic
// statement handles both the fresh acquire and the takeover of an expired
// lock left by a crashed executor; a live lock yields false.
func (s *Store) AcquireLock(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO execution_locks (request_id, acquired_at, expires_at)
		 VALUES ($1, now(), now() + make_interval(secs => $2))
		 ON CONFLICT (request_id) DO UPDATE
		     SET acquired_at = now(),
		         expires_at  = now() + make_interval(secs => $2)
		     WHERE execution_locks.expires_at <= now()`,
		requestID, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", requestID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the marker. Releasing an already-released lock is
// not an error; the defer path must never fail loudly.
func (s *Store) ReleaseLock(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM execution_locks WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", requestID, err)
	}
	return nil
}
