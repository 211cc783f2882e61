package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript implements the sliding-window algorithm atomically
// against a sorted set of admission timestamps.
//
//	KEYS[1] = rate limit key
//	ARGV[1] = window in microseconds
//	ARGV[2] = max admissions per window
//	ARGV[3] = current timestamp in microseconds
//	ARGV[4] = unique member suffix (avoids collisions at equal timestamps)
//
// Returns: {allowed (1/0), remaining}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)

if count < max then
	redis.call("ZADD", key, now, ARGV[3] .. ":" .. ARGV[4])
	redis.call("PEXPIRE", key, math.ceil(window / 1000))
	return {1, max - count - 1}
end

return {0, 0}
`)

// RedisLimiter is a sliding-window limiter backed by a shared Redis store,
// giving correct admission counts across processes.
type RedisLimiter struct {
	client redis.UniversalClient

	now func() time.Time // injectable clock for tests
	seq func() string    // member uniqueness source
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	var n atomic.Uint64
	return &RedisLimiter{
		client: client,
		now:    time.Now,
		seq: func() string {
			return fmt.Sprintf("%d", n.Add(1))
		},
	}
}

// Admit implements Limiter with a single atomic round trip.
func (l *RedisLimiter) Admit(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := l.now()

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		window.Microseconds(), max, now.UnixMicro(), l.seq(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)

	return Decision{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetAt:   now.Add(window),
	}, nil
}
