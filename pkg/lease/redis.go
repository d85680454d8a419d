package lease

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "devflow:lease:"

// RedisStore backs leases with Redis SET NX, giving mutual exclusion across
// engine restarts and, if deployed that way, across processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, runID, ownerID string, ttl time.Duration) error {
	key := redisKeyPrefix + runID

	acquired, err := s.client.SetNX(ctx, key, ownerID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease for run %s: %w", runID, err)
	}

	if acquired {
		return nil
	}

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read lease holder for run %s: %w", runID, err)
	}

	if holder != ownerID {
		return ErrLeaseHeld
	}

	// Re-acquisition by the current owner extends the lease.
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to extend lease for run %s: %w", runID, err)
	}

	return nil
}

func (s *RedisStore) Release(ctx context.Context, runID, ownerID string) error {
	key := redisKeyPrefix + runID

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}

		return fmt.Errorf("failed to read lease holder for run %s: %w", runID, err)
	}

	if holder != ownerID {
		return nil
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release lease for run %s: %w", runID, err)
	}

	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
