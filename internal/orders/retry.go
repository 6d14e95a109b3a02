package orders

import (
	"math/rand"
	"time"
)

// RetryPolicy bounds how often a failing event is re-processed before it is
// dead-lettered.
type RetryPolicy struct {
	MaxAttempts int64
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Exhausted reports whether the delivery count has used up the budget.
// The stream's delivery counter includes the first delivery, so attempt 1 is
// the original processing, not a retry.
func (p RetryPolicy) Exhausted(deliveries int64) bool {
	return p.MaxAttempts > 0 && deliveries > p.MaxAttempts
}

// Backoff returns the wait before the given attempt, doubling from the base
// and capped at the max, with up to 25% jitter to spread thundering retries.
func (p RetryPolicy) Backoff(attempt int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.BackoffBase
	for i := int64(1); i < attempt; i++ {
		backoff *= 2
		if backoff >= p.BackoffMax {
			backoff = p.BackoffMax
			break
		}
	}
	if backoff <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}
