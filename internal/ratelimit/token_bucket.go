package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is {tokens, refreshed_ms} per key. Refill is computed from elapsed
// time inside the script, capped at capacity; the post-state is returned even
// on rejection so callers get a usable retry hint.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local state = redis.call("HMGET", KEYS[1], "tokens", "refreshed_ms")
local tokens = tonumber(state[1])
local refreshed = tonumber(state[2])
if tokens == nil or refreshed == nil then
  tokens = capacity
  refreshed = now
end
if refill_ms > 0 and now > refreshed then
  local refill = math.floor((now - refreshed) / refill_ms)
  if refill > 0 then
    tokens = math.min(capacity, tokens + refill)
    refreshed = refreshed + refill * refill_ms
  end
end
local allowed = 0
local retry = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
elseif refill_ms > 0 then
  retry = (cost - tokens) * refill_ms - (now - refreshed)
end
redis.call("HSET", KEYS[1], "tokens", tokens, "refreshed_ms", refreshed)
redis.call("PEXPIRE", KEYS[1], math.max(capacity * refill_ms, 1000))
return {allowed, tokens, retry}
`)

type TokenBucket struct {
	store        redis.Scripter
	capacity     int64
	refillPeriod time.Duration
	now          func() time.Time
}

// NewTokenBucket builds a bucket holding capacity tokens, refilling one token
// every refillPeriod.
func NewTokenBucket(store redis.Scripter, capacity int64, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{store: store, capacity: capacity, refillPeriod: refillPeriod, now: time.Now}
}

func (t *TokenBucket) TryConsume(ctx context.Context, key string, cost int64) (Decision, error) {
	if cost <= 0 {
		cost = 1
	}

	res, err := tokenBucketScript.Run(ctx, t.store, []string{key},
		t.capacity, t.refillPeriod.Milliseconds(), t.now().UnixMilli(), cost).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected script reply length %d", len(res))
	}
	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	retryMs, _ := res[2].(int64)

	decision := Decision{
		Allowed:   allowed == 1,
		Remaining: remaining,
	}
	if !decision.Allowed && retryMs > 0 {
		decision.RetryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return decision, nil
}
