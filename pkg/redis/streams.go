package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream helpers for the reservation event channel. The reserve script is
// the only producer (XADD happens inside it); these wrappers cover the
// consumer-group side used by the materializer workers.

// EnsureGroup creates the consumer group, creating the stream if needed.
// An already-existing group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	if c.raw == nil {
		return errors.New("redis client not initialized")
	}
	err := c.raw.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// ReadGroup blocks up to block for new entries delivered to this consumer.
// A nil slice with nil error means the block timed out with nothing to do.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	if c.raw == nil {
		return nil, errors.New("redis client not initialized")
	}
	res, err := c.raw.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	for _, s := range res {
		if s.Stream == stream {
			return s.Messages, nil
		}
	}
	return nil, nil
}

// Ack acknowledges processed entries.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if c.raw == nil {
		return errors.New("redis client not initialized")
	}
	if len(ids) == 0 {
		return nil
	}
	return c.raw.XAck(ctx, stream, group, ids...).Err()
}

// Pending lists entries that have been delivered but not acknowledged for at
// least minIdle. RetryCount on each entry is the delivery count.
func (c *Client) Pending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	if c.raw == nil {
		return nil, errors.New("redis client not initialized")
	}
	res, err := c.raw.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// Claim transfers ownership of pending entries to consumer so they can be
// re-processed after a crash (the visibility-timeout path).
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error) {
	if c.raw == nil {
		return nil, errors.New("redis client not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	res, err := c.raw.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}
