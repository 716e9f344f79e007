package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps records as JSON strings with a TTL. SET NX makes the
// reservation atomic across instances.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) (*Record, bool, error) {
	record := &Record{Key: key, RequestHash: requestHash, ExpiresAt: time.Now().Add(ttl)}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("encode idempotency record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+key, raw, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return record, true, nil
	}

	stored, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, requestHash, ttl)
	}
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency key: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(stored, &existing); err != nil {
		return nil, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &existing, false, nil
}

func (s *RedisStore) Complete(ctx context.Context, record *Record, ttl time.Duration) error {
	stored := *record
	stored.ExpiresAt = time.Now().Add(ttl)
	raw, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+record.Key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
