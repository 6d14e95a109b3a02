package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter keyed by the floored window start. Allows double-rate bursts at
// window boundaries, so it is only used for the coarse global cap.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCRBY", KEYS[1], ARGV[1])
if current == tonumber(ARGV[1]) then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type FixedWindow struct {
	store  redis.Scripter
	window time.Duration
	limit  int64
	now    func() time.Time
}

func NewFixedWindow(store redis.Scripter, window time.Duration, limit int64) *FixedWindow {
	return &FixedWindow{store: store, window: window, limit: limit, now: time.Now}
}

func (f *FixedWindow) TryConsume(ctx context.Context, key string, cost int64) (Decision, error) {
	if cost <= 0 {
		cost = 1
	}
	windowMs := f.window.Milliseconds()
	windowStart := f.now().UnixMilli() / windowMs
	bucketKey := fmt.Sprintf("%s:%d", key, windowStart)

	res, err := fixedWindowScript.Run(ctx, f.store, []string{bucketKey}, cost, windowMs).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("fixed window script: %w", err)
	}
	current, ttlMs, err := twoInts(res)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed:   current <= f.limit,
		Remaining: max64(0, f.limit-current),
	}
	if !decision.Allowed && ttlMs > 0 {
		decision.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return decision, nil
}

func twoInts(res []any) (int64, int64, error) {
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	first, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected script reply type %T", res[0])
	}
	second, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected script reply type %T", res[1])
	}
	return first, second, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
