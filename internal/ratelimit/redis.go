package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript is the Redis rendition of MemoryStore.Hit. It runs atomically on the
// server, so concurrent hits from several API processes cannot lose updates.
var fixedWindowScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = limit (int)
-- ARGV[2] = window_ms (int)
--
-- Returns {allowed, count, ttl_ms}
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local ttl = redis.call('PTTL', KEYS[1])

if count == 0 or ttl <= 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end

if count >= limit then
  return {0, count, ttl}
end

count = redis.call('INCR', KEYS[1])
return {1, count, ttl}
`)

// RedisStore keeps counters in Redis with a TTL equal to the window.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.Scripter, prefix string, now func() time.Time) *RedisStore {
	if now == nil {
		now = time.Now
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisStore{client: client, prefix: prefix, now: now}
}

func (r *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if r.client == nil {
		return Decision{}, errors.New("ratelimit: redis client is nil")
	}
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := fixedWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, limit, windowMs).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	return decisionFromScript(res, limit, r.now())
}

// Sweep is a no-op: Redis expires counters on its own.
func (r *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }

func decisionFromScript(res []int64, limit int, now time.Time) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, count, ttlMs := res[0] == 1, int(res[1]), res[2]
	if ttlMs < 0 {
		ttlMs = 0
	}

	d := Decision{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: now.Add(time.Duration(ttlMs) * time.Millisecond),
	}
	if allowed {
		d.Remaining = limit - count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
	}
	return d, nil
}
