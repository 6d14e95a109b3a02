package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ordered set of timestamps per key. Trim, count and insert run in one script
// so concurrent callers cannot race between the count and the add.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])
if count + cost > limit then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  local retry = 0
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, count, retry}
end
for i = 1, cost do
  redis.call("ZADD", KEYS[1], now, ARGV[4 + i])
end
redis.call("PEXPIRE", KEYS[1], window)
return {1, count + cost, 0}
`)

type SlidingWindow struct {
	store  redis.Scripter
	window time.Duration
	limit  int64
	now    func() time.Time
}

func NewSlidingWindow(store redis.Scripter, window time.Duration, limit int64) *SlidingWindow {
	return &SlidingWindow{store: store, window: window, limit: limit, now: time.Now}
}

func (s *SlidingWindow) TryConsume(ctx context.Context, key string, cost int64) (Decision, error) {
	if cost <= 0 {
		cost = 1
	}
	args := []any{s.now().UnixMilli(), s.window.Milliseconds(), s.limit, cost}
	for i := int64(0); i < cost; i++ {
		args = append(args, uuid.NewString())
	}

	res, err := slidingWindowScript.Run(ctx, s.store, []string{key}, args...).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	retryMs, _ := res[2].(int64)

	decision := Decision{
		Allowed:   allowed == 1,
		Remaining: max64(0, s.limit-count),
	}
	if !decision.Allowed && retryMs > 0 {
		decision.RetryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return decision, nil
}
