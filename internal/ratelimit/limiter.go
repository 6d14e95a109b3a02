package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single consume attempt. RetryAfter is a hint
// only populated on rejection; Remaining reflects post-call state so callers
// can surface backoff guidance.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter is one counting primitive bound to a window/limit configuration.
// Keys are fully namespaced by the caller; implementations never hold
// in-process state — the scripted store operation is the serialization point.
type Limiter interface {
	TryConsume(ctx context.Context, key string, cost int64) (Decision, error)
}
