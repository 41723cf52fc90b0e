package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// Entry pairs a value with its TTL for batched writes.
type Entry struct {
	Value string
	TTL   time.Duration
}

// Store is the shared key-value contract backing the edge cache and the
// quote pipeline. Values are JSON strings; every key carries its own TTL.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key does not exist; returns true when it won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	// SetBatch writes all entries through a single pipelined round trip.
	SetBatch(ctx context.Context, entries map[string]Entry) error
	// Scan returns every key matching pattern using a non-blocking cursor
	// scan, falling back to KEYS where SCAN is unavailable.
	Scan(ctx context.Context, pattern string) ([]string, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// RedisStore implements Store on a single Redis connection.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(addr, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

// NewRedisWithClient wraps an existing client (used by tests with miniredis).
func NewRedisWithClient(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, logger: logger}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(vals))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[i] = &str
		}
	}
	return out, nil
}

func (s *RedisStore) SetBatch(ctx context.Context, entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for key, e := range entries {
		pipe.Set(ctx, key, e.Value, e.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			// Some hosted environments disable SCAN; degrade to KEYS.
			s.logger.Warn("kvstore.scan_failed_falling_back",
				zap.String("pattern", pattern),
				zap.Error(err))
			return s.rdb.Keys(ctx, pattern).Result()
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s.rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
