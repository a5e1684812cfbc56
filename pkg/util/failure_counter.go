package util

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureCounter counts consecutive failures per key; the count expires after ttl.
type FailureCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewFailureCounter(rdb *redis.Client, ttl time.Duration) *FailureCounter {
	return &FailureCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet increments the failure count for a given key and returns the new count
func (r *FailureCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Set expiration on first increment
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}

	return count, nil
}

// Get returns the current failure count
func (r *FailureCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset clears the failure count after a success
func (r *FailureCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRunFailureKey formats the consecutive run failure key of a user
func FormatRunFailureKey(userID int) string {
	return "triage:failures:" + itoa(userID)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
