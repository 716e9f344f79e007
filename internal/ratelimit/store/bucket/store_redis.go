package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"myapi/internal/ratelimit/models"
	"myapi/pkg/platform/sentinel"
)

const redisKeyPrefix = "rl:"

// tokenBucketScript refills and consumes atomically using the server clock,
// so every instance sees the same bucket.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])

local t = redis.call('TIME')
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  tokens = math.min(burst, tokens + elapsed * rate)
  ts = now
end

local allowed = 0
if cost <= tokens then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', key, math.ceil(burst / rate * 1000) + 1000)
return {allowed, tostring(tokens), tostring(now)}
`)

// RedisBucketStore keeps token buckets in Redis hashes that expire once full.
type RedisBucketStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost int, limit models.Limit) (*models.RateLimitResult, error) {
	if !limit.Valid() || cost <= 0 {
		return nil, fmt.Errorf("invalid bucket parameters: %w", sentinel.ErrInvalidState)
	}
	raw, err := tokenBucketScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, limit.Rate, limit.Burst, cost).Slice()
	if err != nil {
		return nil, fmt.Errorf("token bucket script: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("token bucket script: unexpected reply length %d", len(raw))
	}
	allowed, _ := raw[0].(int64)
	tokens, err := parseFloat(raw[1])
	if err != nil {
		return nil, err
	}
	nowSecs, err := parseFloat(raw[2])
	if err != nil {
		return nil, err
	}
	now := time.Unix(0, int64(nowSecs*float64(time.Second)))
	return result(limit, cost, tokens, allowed == 1, now), nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Health pings Redis.
func (s *RedisBucketStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseFloat(v any) (float64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("token bucket script: unexpected reply type %T", v)
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("token bucket script: %w", err)
	}
	return f, nil
}
