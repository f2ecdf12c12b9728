package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/redis/go-redis/v9"
)

const resultKeyPrefix = "docintel:results:"

// RedisStore keeps bundles in Redis as JSON with a per-session TTL, so
// several service instances can share sessions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func resultKey(sessionID string) string {
	return resultKeyPrefix + sessionID
}

// Save replaces the session's bundle and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, sessionID string, result *processor.Result) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := s.client.Set(ctx, resultKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store results in Redis: %w", err)
	}
	return nil
}

// Load returns the session's bundle or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*processor.Result, error) {
	data, err := s.client.Get(ctx, resultKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load results from Redis: %w", err)
	}

	var result processor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &result, nil
}

// Delete drops the session's bundle.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, resultKey(sessionID)).Err()
}

// Ping checks Redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
