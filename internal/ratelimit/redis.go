package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentriq/ipwatch/internal/metrics"
)

// Lua script for atomic sliding-window rate limiting. Old members are
// pruned, the current count checked, and the new request added in one
// server-side step. Returns {allowed, count, oldest score}.
const allowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)

local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, now)
	redis.call('EXPIRE', key, ttl)
	return {1, current + 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, current, tonumber(oldest[2])}
`

// RedisLimiter keeps sliding-window counters in Redis so limits hold
// across processes.
type RedisLimiter struct {
	client *redis.Client
	rules  Rules
	now    func() time.Time
}

// NewRedisLimiter connects to Redis at redisURL and returns a limiter
// with the given rules.
func NewRedisLimiter(redisURL string, rules Rules) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLimiter{client: client, rules: rules, now: time.Now}, nil
}

// NewRedisLimiterWithClient wraps an existing client, used in tests.
func NewRedisLimiterWithClient(client *redis.Client, rules Rules) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, now: time.Now}
}

func (r *RedisLimiter) Allow(ctx context.Context, id Identity, scope string) (Decision, error) {
	rule := r.rules.Resolve(scope, id)
	if rule.Limit <= 0 {
		return Decision{Allowed: true, Limit: rule.Limit}, nil
	}

	now := r.now()
	windowStart := now.Add(-rule.Window).UnixNano()
	ttl := int64(rule.Window/time.Second) + 1

	res, err := r.client.Eval(ctx, allowScript,
		[]string{"ratelimit:" + stateKey(id, scope)},
		now.UnixNano(), windowStart, rule.Limit, ttl,
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	allowed := toInt64(res[0]) == 1
	count := toInt64(res[1])

	d := Decision{Allowed: allowed, Limit: rule.Limit}
	if allowed {
		d.Remaining = rule.Limit - int(count)
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d, nil
	}

	metrics.RateLimitDenied.WithLabelValues(scope).Inc()
	if oldest := toInt64(res[2]); oldest > 0 {
		d.RetryAfter = time.Unix(0, oldest).Add(rule.Window).Sub(now)
	}
	return d, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	default:
		return 0
	}
}
