package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "node-pager:checkpoint"

var redisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nodepager_checkpoint_redis_errors_total",
	Help: "Total number of redis checkpoint operation errors",
}, []string{"operation"}) // "get", "set", "del"

// RedisStore keeps the checkpoint under a single redis key, so several hosts
// (or a replacement host after a crash) can pick up the same job.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a store using key, or DefaultRedisKey when empty.
func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		redis: redisClient,
		key:   key,
	}
}

// Key returns the redis key holding the checkpoint.
func (s *RedisStore) Key() string {
	return s.key
}

// Load fetches the checkpoint. Returns ErrNoCheckpoint if the key is absent.
func (s *RedisStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoCheckpoint
		}
		redisErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		redisErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("parse checkpoint %s: %w", s.key, err)
	}
	return &cp, nil
}

// Save stores cp without expiry.
func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint id cannot be empty")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, s.key, data, 0).Err(); err != nil {
		redisErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear deletes the stored checkpoint.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		redisErrorsTotal.WithLabelValues("del").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
