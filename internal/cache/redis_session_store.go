package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps backend session ids in Redis, one key per profile.
type RedisSessionStore struct {
	client *redisv9.Client
	ttl    time.Duration
}

// NewRedisSessionStore builds a store. A zero ttl keeps ids until overwritten.
func NewRedisSessionStore(client *redisv9.Client, ttl time.Duration) *RedisSessionStore {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, sessionKey(key)).Result()
	if errors.Is(err, redisv9.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get session id failed: %w", err)
	}
	return value, true, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, sessionKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session id failed: %w", err)
	}
	return nil
}

// ProfileKey scopes a store key to one profile.
func ProfileKey(base string, profileID uint) string {
	return fmt.Sprintf("%s:%d", base, profileID)
}

func sessionKey(key string) string {
	return "assistant:session:" + key
}
