package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/courtdata/nba-backfill/pkg/backfill"
)

// redisKeyPrefix namespaces checkpoint blobs in a shared Redis instance.
const redisKeyPrefix = "nba-backfill:checkpoint:"

// RedisStore persists checkpoints in Redis. Checkpoints have no TTL;
// they are overwritten on every save and survive until the season's
// backfill is done and cleaned up manually.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed checkpoint store.
func NewRedisStore(redisClient *redis.Client) (*RedisStore, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{redis: redisClient}, nil
}

// Read returns the checkpoint blob at path, or
// backfill.ErrCheckpointNotFound if none exists.
func (s *RedisStore) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := s.redis.Get(ctx, redisKeyPrefix+path).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, backfill.ErrCheckpointNotFound
		}
		checkpointErrors.WithLabelValues("redis", "read").Inc()
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}
	return data, nil
}

// Write stores the blob at path.
func (s *RedisStore) Write(ctx context.Context, path string, data []byte) error {
	if err := s.redis.Set(ctx, redisKeyPrefix+path, data, 0).Err(); err != nil {
		checkpointErrors.WithLabelValues("redis", "write").Inc()
		return fmt.Errorf("redis set checkpoint: %w", err)
	}

	checkpointBytes.WithLabelValues("redis").Set(float64(len(data)))
	return nil
}
