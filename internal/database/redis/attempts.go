// Package redis implements the rate-limit attempt store on Redis sorted
// sets, for deployments that prefer keeping attempt counters out of the
// main database.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fotique/selfie-match/internal/config"
)

const keyPrefix = "selfie:attempts:"

// AttemptStore persists attempts as sorted-set members scored by their
// unix-nano timestamp. Entries expire with the window, so the janitor has
// nothing to do for this backend.
type AttemptStore struct {
	client *goredis.Client
	window time.Duration
}

// NewAttemptStore connects to Redis and verifies the connection.
func NewAttemptStore(cfg *config.RedisConfig, window time.Duration) (*AttemptStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &AttemptStore{client: client, window: window}, nil
}

// Close closes the Redis connection.
func (s *AttemptStore) Close() error {
	return s.client.Close()
}

// Attempts returns attempt timestamps for the key at or after since, oldest first.
func (s *AttemptStore) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	rkey := keyPrefix + key

	// Drop expired members first so counts stay bounded.
	if err := s.client.ZRemRangeByScore(ctx, rkey, "-inf",
		fmt.Sprintf("(%d", since.UnixNano())).Err(); err != nil {
		return nil, fmt.Errorf("pruning attempts: %w", err)
	}

	scores, err := s.client.ZRangeByScoreWithScores(ctx, rkey, &goredis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading attempts: %w", err)
	}

	attempts := make([]time.Time, 0, len(scores))
	for _, z := range scores {
		attempts = append(attempts, time.Unix(0, int64(z.Score)))
	}
	return attempts, nil
}

// Record appends one attempt and refreshes the key's expiry.
func (s *AttemptStore) Record(ctx context.Context, key string, at time.Time) error {
	rkey := keyPrefix + key

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, rkey, goredis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	})
	pipe.Expire(ctx, rkey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}

// DeleteBefore is a no-op for the Redis backend: member expiry is handled
// inline by Attempts and key TTLs.
func (s *AttemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
