// Package ratelimit throttles API-triggered collection runs with a token
// bucket kept in Redis, so every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "collector:runs:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
}

// TokenBucket allows Capacity runs per key in a burst and refills at Refill
// tokens per second.
type TokenBucket struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*TokenBucket)

// WithPrefix namespaces bucket keys.
func WithPrefix(p string) Option {
	return func(b *TokenBucket) { b.prefix = p }
}

// WithTTL sets how long an idle bucket survives.
func WithTTL(d time.Duration) Option {
	return func(b *TokenBucket) { b.ttl = d }
}

// WithClock overrides the time source fed to the script.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) { b.now = now }
}

// NewTokenBucket builds a bucket. Idle buckets expire once they would have
// refilled completely, but never sooner than a minute.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, opts ...Option) *TokenBucket {
	ttl := time.Minute
	if refillPerSecond > 0 {
		if full := time.Duration(float64(capacity) / refillPerSecond * float64(time.Second)); full > ttl {
			ttl = full
		}
	}
	b := &TokenBucket{
		client:   client,
		prefix:   defaultPrefix,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow takes one token from key's bucket when one is available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := bucketScript.Run(ctx, b.client, []string{b.prefix + key},
		b.capacity, b.refill, b.now().UnixMilli(), b.ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", key, err)
	}
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("token bucket %s: unexpected reply %v", key, res)
	}
	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	return Decision{Allowed: allowed == 1, Remaining: int(remaining)}, nil
}

// Lua numbers come back from Redis truncated to integers, so the remaining
// count is floored.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'updated_ms')
local tokens = tonumber(state[1])
local updated = tonumber(state[2])
if tokens == nil then tokens = capacity end
if updated == nil then updated = now end

local elapsed = math.max(0, now - updated)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'updated_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, math.floor(tokens)}
`)
