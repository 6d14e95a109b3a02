package reservation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/metrics"
)

// Keys builds the campaign-scoped store keys the scripts operate on.
type Keys interface {
	CampaignKey(campaignID string) string
	StockKey(campaignID string) string
	ReservationSetKey(campaignID string) string
	ReservationIDKey(campaignID string) string
}

// Reservation is a successful hold on one unit of stock. Durable order
// creation happens later, off the event stream.
type Reservation struct {
	ReservationID string    `json:"reservationId"`
	CampaignID    string    `json:"campaignId"`
	UserID        string    `json:"userId"`
	ReservedAt    time.Time `json:"reservedAt"`
}

// EngineParams configure the reservation engine.
type EngineParams struct {
	Store       redis.Scripter
	Keys        Keys
	EventStream string
	TTL         time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.ReservationMetrics
}

// Engine owns all mutations of live campaign state. Every mutation is a
// single server-side script, so no interleaving of concurrent callers can
// oversell or double-book.
type Engine struct {
	store   redis.Scripter
	keys    Keys
	stream  string
	ttl     time.Duration
	logger  *logger.Logger
	metrics *metrics.ReservationMetrics
	now     func() time.Time
	newID   func() string
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Store == nil {
		return nil, stdErrors.New("script store is required")
	}
	if params.Keys == nil {
		return nil, stdErrors.New("key builder is required")
	}
	if params.EventStream == "" {
		return nil, stdErrors.New("event stream name is required")
	}
	if params.TTL <= 0 {
		return nil, stdErrors.New("reservation ttl must be positive")
	}
	return &Engine{
		store:   params.Store,
		keys:    params.Keys,
		stream:  params.EventStream,
		ttl:     params.TTL,
		logger:  params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Reserve attempts to hold one unit of stock for the user. Business
// rejections come back as coded errors; the returned reservation is only
// valid when err is nil.
func (e *Engine) Reserve(ctx context.Context, campaignID, userID, requestID string) (Reservation, error) {
	now := e.now()
	reservationID := e.newID()

	keys := []string{
		e.keys.CampaignKey(campaignID),
		e.keys.ReservationSetKey(campaignID),
		e.keys.ReservationIDKey(campaignID),
		e.keys.StockKey(campaignID),
		e.stream,
	}
	res, err := reserveScript.Run(ctx, e.store, keys,
		now.UnixMilli(), e.ttl.Milliseconds(), userID, reservationID, requestID, campaignID).Slice()
	if err != nil {
		return Reservation{}, errors.Wrap(errors.CodeDependency, err, "running reserve script")
	}
	if len(res) != 2 {
		return Reservation{}, errors.New(errors.CodeInternal, fmt.Sprintf("unexpected reserve reply length %d", len(res)))
	}
	outcome, _ := res[0].(int64)
	payload, _ := res[1].(string)

	switch outcome {
	case outcomeReserved:
		e.countOutcome("reserved")
		return Reservation{
			ReservationID: payload,
			CampaignID:    campaignID,
			UserID:        userID,
			ReservedAt:    now,
		}, nil
	case outcomeOutOfStock:
		e.countOutcome("out_of_stock")
		return Reservation{}, errors.New(errors.CodeOutOfStock, "campaign stock exhausted")
	case outcomeAlreadyReserved:
		e.countOutcome("already_reserved")
		resvErr := errors.New(errors.CodeAlreadyReserved, "user already holds a reservation")
		if payload != "" {
			resvErr = resvErr.WithDetails(map[string]string{"reservationId": payload})
		}
		return Reservation{}, resvErr
	case outcomeCampaignClosed:
		e.countOutcome("campaign_closed")
		return Reservation{}, errors.New(errors.CodeCampaignClosed, "campaign is not accepting reservations")
	default:
		return Reservation{}, errors.New(errors.CodeInternal, fmt.Sprintf("unknown reserve outcome %d", outcome))
	}
}

// Warmup seeds the live counters for a campaign ahead of its start. Returns
// false when the campaign was already warmed.
func (e *Engine) Warmup(ctx context.Context, campaign models.Campaign) (bool, error) {
	id := campaign.ID.String()
	keys := []string{e.keys.CampaignKey(id), e.keys.StockKey(id)}
	seeded, err := warmupScript.Run(ctx, e.store, keys,
		campaign.TotalStock,
		campaign.StartTime.UnixMilli(),
		campaign.EffectiveEnd().UnixMilli(),
		campaign.ProductID.String()).Int64()
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, "running warmup script")
	}
	if seeded == 1 && e.logger != nil {
		e.logger.Info(e.logger.WithCampaignID(ctx, id), "campaign warmed")
	}
	return seeded == 1, nil
}

// Release drops an abandoned reservation and returns its unit to the pool.
// Returns false when the stored reservation no longer matches, which means
// the slot was already released or re-reserved.
func (e *Engine) Release(ctx context.Context, campaignID, userID, reservationID string) (bool, error) {
	keys := []string{
		e.keys.ReservationSetKey(campaignID),
		e.keys.ReservationIDKey(campaignID),
		e.keys.StockKey(campaignID),
	}
	released, err := releaseScript.Run(ctx, e.store, keys, userID, reservationID).Int64()
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, "running release script")
	}
	return released == 1, nil
}

// Retain pins an expired hold that already materialized into an order. The
// record stays in the set so the user cannot reserve a second unit in the
// same campaign, and the sweep stops revisiting it.
func (e *Engine) Retain(ctx context.Context, campaignID, userID, reservationID string) (bool, error) {
	keys := []string{
		e.keys.ReservationSetKey(campaignID),
		e.keys.ReservationIDKey(campaignID),
	}
	retained, err := retainScript.Run(ctx, e.store, keys, userID, reservationID).Int64()
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, "running retain script")
	}
	return retained == 1, nil
}

// CloseWindow pulls the live campaign window's end forward to at. Returns
// false when the campaign was never warmed, which is fine: there is no live
// state to cut off.
func (e *Engine) CloseWindow(ctx context.Context, campaignID string, at time.Time) (bool, error) {
	keys := []string{e.keys.CampaignKey(campaignID)}
	closed, err := closeWindowScript.Run(ctx, e.store, keys, at.UnixMilli()).Int64()
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, "running close window script")
	}
	return closed == 1, nil
}

// CorrectStock sets the live counter to expected, but only if it still holds
// the observed value. A false return means a concurrent reserve moved the
// counter and the correction was skipped.
func (e *Engine) CorrectStock(ctx context.Context, campaignID string, observed, expected int64) (bool, error) {
	keys := []string{e.keys.StockKey(campaignID)}
	applied, err := correctStockScript.Run(ctx, e.store, keys, observed, expected).Int64()
	if err != nil {
		return false, errors.Wrap(errors.CodeDependency, err, "running stock correction script")
	}
	return applied == 1, nil
}

func (e *Engine) countOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.IncOutcome(outcome)
	}
}
