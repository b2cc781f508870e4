package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('PEXPIRE', key, window + 10000)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter admits at most limit events per key in any sliding window.
type RateLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

// RedisRateLimiter shares the window across processes. failOpen decides what
// happens when redis cannot be reached.
type RedisRateLimiter struct {
	client   *redis.Client
	failOpen bool
}

func NewRedisRateLimiter(client *redis.Client, failOpen bool) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, failOpen: failOpen}
}

func (rl *RedisRateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Bool("failOpen", rl.failOpen).
			Msg("rate limit check failed")
		return rl.failOpen, now.Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result")
		return rl.failOpen, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}

const (
	memoryLimiterMaxKeys      = 10000
	memoryLimiterCleanupEvery = time.Minute
)

// MemoryRateLimiter is the single-process limiter used without redis.
type MemoryRateLimiter struct {
	mu          sync.Mutex
	events      map[string][]time.Time
	lastCleanup time.Time
	now         func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		events:      make(map[string][]time.Time),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *MemoryRateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now, window)

	windowStart := now.Add(-window)
	kept := rl.events[key][:0]
	for _, ts := range rl.events[key] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		rl.events[key] = kept
		return false, kept[0].Add(window)
	}

	rl.events[key] = append(kept, now)
	return true, now.Add(window)
}

func (rl *MemoryRateLimiter) cleanup(now time.Time, window time.Duration) {
	if now.Sub(rl.lastCleanup) < memoryLimiterCleanupEvery && len(rl.events) < memoryLimiterMaxKeys {
		return
	}
	rl.lastCleanup = now

	for key, events := range rl.events {
		if len(events) == 0 || now.Sub(events[len(events)-1]) > window {
			delete(rl.events, key)
		}
	}
}
