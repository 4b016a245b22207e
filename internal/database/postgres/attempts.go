package postgres

import (
	"context"
	"fmt"
	"time"
)

// AttemptRepository persists rate-limit attempts. Inserts from concurrent
// requests rely on the database's own isolation; no in-process locking.
type AttemptRepository struct {
	pool *Pool
}

// NewAttemptRepository creates a new PostgreSQL attempt repository.
func NewAttemptRepository(pool *Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Attempts returns attempt timestamps for the key at or after since, oldest first.
func (r *AttemptRepository) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	query := `
		SELECT attempted_at
		FROM selfie_attempts
		WHERE identity_key = $1 AND attempted_at >= $2
		ORDER BY attempted_at
	`
	rows, err := r.pool.Query(ctx, query, key, since)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// Record appends one attempt.
func (r *AttemptRepository) Record(ctx context.Context, key string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO selfie_attempts (identity_key, attempted_at) VALUES ($1, $2)",
		key, at,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// DeleteBefore prunes attempts older than the cutoff and returns the count.
func (r *AttemptRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM selfie_attempts WHERE attempted_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired attempts: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
