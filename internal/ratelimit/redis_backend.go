package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys: KEYS[1] = bucket key
// Args: ARGV[1] = max_tokens, ARGV[2] = refill_rate (tokens/s),
// ARGV[3] = requested, ARGV[4] = now (unix microseconds)
// Returns {allowed (0/1), remaining tokens}
var tokenBucketScript = redis.NewScript(`
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil then
    tokens = max_tokens
    last_refill = now
end

local elapsed = (now - last_refill) / 1000000.0
if elapsed > 0 then
    tokens = math.min(max_tokens, tokens + elapsed * refill_rate)
end

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "last_refill", tostring(now))
local ttl = math.ceil(max_tokens / refill_rate * 2)
if ttl < 60 then ttl = 60 end
redis.call("EXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens)}
`)

// RedisBackend keeps token buckets in Redis so every instance shares the
// same per-tenant budget.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-backed bucket store. Bucket keys are
// prefixed with "tillage:rl:".
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "tillage:rl:"}
}

// CheckRateLimit runs the token bucket script atomically on the server.
func (b *RedisBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	res, err := tokenBucketScript.Run(ctx, b.client, []string{b.prefix + key},
		maxTokens, refillRate, requested, nowMicros(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit check: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis rate limit check: unexpected reply length %d", len(res))
	}
	return res[0] == 1, int(res[1]), nil
}

// nowMicros is replaced in tests.
var nowMicros = func() int64 {
	return time.Now().UnixMicro()
}
