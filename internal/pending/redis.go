package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "scheduleguard:pending:"

// RedisStore keeps edits as JSON values with a TTL refreshed on every Put.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, edit *Edit) error {
	data, err := json.Marshal(edit)
	if err != nil {
		return fmt.Errorf("marshal edit: %w", err)
	}
	return s.client.Set(ctx, keyPrefix+edit.SessionID, data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Edit, error) {
	val, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var edit Edit
	if err := json.Unmarshal(val, &edit); err != nil {
		return nil, fmt.Errorf("unmarshal edit %s: %w", sessionID, err)
	}
	return &edit, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}
