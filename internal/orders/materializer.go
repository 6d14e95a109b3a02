package orders

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/enums"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/metrics"
)

// eventStream is the consumer-group surface of the reservation channel.
type eventStream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Pending(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.XMessage, error)
}

// deadLetterSink records events the materializer gives up on.
type deadLetterSink interface {
	Record(ctx context.Context, msg redis.XMessage, reason enums.DeadLetterReason, cause error, attempts int64) error
}

// MaterializerParams configure the worker that turns reservation events into
// durable orders.
type MaterializerParams struct {
	Stream      eventStream
	Orders      *Repo
	DeadLetters deadLetterSink
	StreamName  string
	Group       string
	Consumer    string
	Worker      config.WorkerConfig
	Logger      *logger.Logger
	Metrics     *metrics.ReservationMetrics
}

// Materializer consumes reservation events and writes one order per
// reservation. Delivery is at least once; the unique reservation constraint
// makes the write idempotent, so redeliveries acknowledge cleanly.
type Materializer struct {
	stream      eventStream
	orders      *Repo
	deadLetters deadLetterSink
	streamName  string
	group       string
	consumer    string
	cfg         config.WorkerConfig
	policy      RetryPolicy
	logger      *logger.Logger
	metrics     *metrics.ReservationMetrics
	sleep       func(ctx context.Context, d time.Duration)
}

func NewMaterializer(params MaterializerParams) (*Materializer, error) {
	if params.Stream == nil {
		return nil, stdErrors.New("event stream is required")
	}
	if params.Orders == nil {
		return nil, stdErrors.New("order repo is required")
	}
	if params.DeadLetters == nil {
		return nil, stdErrors.New("dead letter sink is required")
	}
	if params.StreamName == "" || params.Group == "" || params.Consumer == "" {
		return nil, stdErrors.New("stream, group and consumer names are required")
	}
	return &Materializer{
		stream:      params.Stream,
		orders:      params.Orders,
		deadLetters: params.DeadLetters,
		streamName:  params.StreamName,
		group:       params.Group,
		consumer:    params.Consumer,
		cfg:         params.Worker,
		policy: RetryPolicy{
			MaxAttempts: params.Worker.MaxRetries,
			BackoffBase: params.Worker.BackoffBase,
			BackoffMax:  params.Worker.BackoffMax,
		},
		logger:  params.Logger,
		metrics: params.Metrics,
		sleep:   sleepCtx,
	}, nil
}

// Run blocks until ctx is cancelled. It starts the configured number of
// consumers plus one reclaimer that re-processes entries whose consumer went
// quiet past the visibility timeout.
func (m *Materializer) Run(ctx context.Context) error {
	if err := m.stream.EnsureGroup(ctx, m.streamName, m.group); err != nil {
		return fmt.Errorf("ensuring consumer group: %w", err)
	}

	pool := m.cfg.PoolSize
	if pool < 1 {
		pool = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < pool; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.consumeLoop(ctx, fmt.Sprintf("%s-%d", m.consumer, n))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.reclaimLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (m *Materializer) consumeLoop(ctx context.Context, consumer string) {
	for ctx.Err() == nil {
		msgs, err := m.stream.ReadGroup(ctx, m.streamName, m.group, consumer, m.cfg.BatchSize, m.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if m.logger != nil {
				m.logger.Error(ctx, "reading reservation events", err)
			}
			m.sleep(ctx, m.policy.Backoff(1))
			continue
		}
		for _, msg := range msgs {
			m.process(ctx, msg, 1)
		}
	}
}

// reclaimLoop picks up entries another consumer read but never acknowledged.
// The stream's delivery count doubles as the retry counter.
func (m *Materializer) reclaimLoop(ctx context.Context) {
	interval := m.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	for ctx.Err() == nil {
		m.sleep(ctx, interval)
		if ctx.Err() != nil {
			return
		}
		if err := m.reclaimOnce(ctx); err != nil && m.logger != nil {
			m.logger.Error(ctx, "reclaiming pending events", err)
		}
	}
}

func (m *Materializer) reclaimOnce(ctx context.Context) error {
	pending, err := m.stream.Pending(ctx, m.streamName, m.group, m.cfg.VisibilityTimeout, m.cfg.BatchSize)
	if err != nil {
		return err
	}
	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}
	msgs, err := m.stream.Claim(ctx, m.streamName, m.group, m.consumer, m.cfg.VisibilityTimeout, ids...)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		// Claiming bumps the delivery count, so this processing attempt is
		// one past what XPENDING reported.
		m.process(ctx, msg, deliveries[msg.ID]+1)
	}
	return nil
}

// process handles one delivery. The entry is acknowledged on success,
// duplicate, or dead-letter; a transient failure leaves it pending for the
// reclaimer.
func (m *Materializer) process(ctx context.Context, msg redis.XMessage, deliveries int64) {
	event, err := decodeEvent(msg)
	if err != nil {
		m.deadLetter(ctx, msg, enums.DeadLetterReasonMalformed, err, deliveries)
		return
	}

	logCtx := ctx
	if m.logger != nil {
		logCtx = m.logger.WithFields(ctx, map[string]any{
			"reservation_id": event.ReservationID.String(),
			"campaign_id":    event.CampaignID.String(),
		})
	}

	if m.policy.Exhausted(deliveries) {
		m.deadLetter(logCtx, msg, enums.DeadLetterReasonRetriesExhausted, nil, deliveries)
		return
	}

	created, err := m.orders.CreateFromEvent(ctx, event)
	if err != nil {
		if m.logger != nil {
			m.logger.Error(logCtx, "materializing order", err)
		}
		m.countDisposition("failed")
		m.sleep(ctx, m.policy.Backoff(deliveries))
		return
	}

	if err := m.stream.Ack(ctx, m.streamName, m.group, msg.ID); err != nil {
		// The order is durable; the redelivered entry will hit the unique
		// constraint and acknowledge then.
		if m.logger != nil {
			m.logger.Warn(logCtx, "acknowledging processed event failed")
		}
	}
	if created {
		m.countDisposition("created")
		if m.logger != nil {
			m.logger.Info(logCtx, "order materialized")
		}
	} else {
		m.countDisposition("duplicate")
	}
}

func (m *Materializer) deadLetter(ctx context.Context, msg redis.XMessage, reason enums.DeadLetterReason, cause error, attempts int64) {
	if err := m.deadLetters.Record(ctx, msg, reason, cause, attempts); err != nil {
		// Keep the entry pending rather than losing it.
		if m.logger != nil {
			m.logger.Error(ctx, "recording dead letter", err)
		}
		return
	}
	if err := m.stream.Ack(ctx, m.streamName, m.group, msg.ID); err != nil && m.logger != nil {
		m.logger.Warn(ctx, "acknowledging dead-lettered event failed")
	}
	m.countDisposition("dead_lettered")
	if m.logger != nil {
		m.logger.Warn(m.logger.WithField(ctx, "reason", string(reason)), "reservation event dead-lettered")
	}
}

func (m *Materializer) countDisposition(disposition string) {
	if m.metrics != nil {
		m.metrics.IncEventDisposition(disposition)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
