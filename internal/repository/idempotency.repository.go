package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "order_executor:batch:"

// IdempotencyRepository guards batch submissions against replays. A
// batch key claims a redis slot with SetNX; a second submission with
// the same key within the TTL is rejected upstream.
type IdempotencyRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyRepository(client *redis.Client, ttl time.Duration) *IdempotencyRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyRepository{client: client, ttl: ttl}
}

// Claim returns true when the key was free and is now held.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
}

// Release frees a claimed key, used when a batch fails before any order
// reaches a venue so the caller may resubmit.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
