package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/storage"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter, starts the window on the first
// hit and caps the counter at max+1. It returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local max = tonumber(ARGV[2])
if count > max + 1 then
  redis.call('DECR', KEYS[1])
  count = max + 1
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisLimiter shares fixed windows between gateway replicas. Window
// boundaries follow the Redis clock; key expiry reclaims idle windows.
type RedisLimiter struct {
	redis *storage.RedisClient
}

func NewRedisLimiter(redis *storage.RedisClient) *RedisLimiter {
	return &RedisLimiter{redis: redis}
}

// MinRedisWindow is the shortest window the redis limiter can express; the
// script counts in whole milliseconds.
const MinRedisWindow = time.Millisecond

func redisKey(tier Tier, key string) string {
	return fmt.Sprintf("ratelimit:fixed:%s:%s", tier.Name, key)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, tier Tier, now time.Time) (Decision, error) {
	if err := tier.Validate(); err != nil {
		return Decision{}, err
	}
	if tier.Algorithm == AlgorithmTokenBucket {
		return Decision{}, fmt.Errorf("tier %s: token_bucket is not supported by the redis limiter", tier.Name)
	}
	if tier.Window < MinRedisWindow {
		return Decision{}, fmt.Errorf("tier %s: window %s is shorter than %s", tier.Name, tier.Window, MinRedisWindow)
	}

	res, err := l.redis.RunScript(ctx, fixedWindowScript,
		[]string{redisKey(tier, key)},
		tier.Window.Milliseconds(), tier.MaxRequests,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = tier.Window
	}
	resetAt := now.Add(ttl)

	if count <= int64(tier.MaxRequests) {
		return Decision{
			Allowed:   true,
			Limit:     tier.MaxRequests,
			Remaining: tier.MaxRequests - int(count),
			ResetAt:   resetAt,
		}, nil
	}

	return Decision{
		Allowed:    false,
		Limit:      tier.MaxRequests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: ttl,
	}, nil
}
