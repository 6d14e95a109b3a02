package reconcile

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
)

// reservationStore reads the live reservation records for the sweep.
type reservationStore interface {
	ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error)
	HGet(ctx context.Context, key, field string) (string, error)
	ReservationSetKey(campaignID string) string
	ReservationIDKey(campaignID string) string
}

// orderChecker reports whether a reservation already became a durable order.
type orderChecker interface {
	ExistsForReservation(ctx context.Context, reservationID uuid.UUID) (bool, error)
}

// releaser finalizes an expired hold: drop it and restock, or pin it as a
// permanent dedup record.
type releaser interface {
	Release(ctx context.Context, campaignID, userID, reservationID string) (bool, error)
	Retain(ctx context.Context, campaignID, userID, reservationID string) (bool, error)
}

// ExpiryJobParams configure the reservation expiry sweep.
type ExpiryJobParams struct {
	Campaigns campaignLister
	Store     reservationStore
	Orders    orderChecker
	Engine    releaser
	Config    config.ReconcilerConfig
	Logger    *logger.Logger
}

// ExpiryJob sweeps reservations whose hold deadline passed. A hold that was
// materialized keeps its unit and its record is retained so the user still
// deduplicates; a hold that never produced an order returns its unit to the
// pool. The durable check runs before the release so a slow materializer
// cannot lose a sale.
type ExpiryJob struct {
	campaigns campaignLister
	store     reservationStore
	orders    orderChecker
	engine    releaser
	cfg       config.ReconcilerConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewExpiryJob(params ExpiryJobParams) (*ExpiryJob, error) {
	if params.Campaigns == nil {
		return nil, stdErrors.New("campaign lister is required")
	}
	if params.Store == nil {
		return nil, stdErrors.New("reservation store is required")
	}
	if params.Orders == nil {
		return nil, stdErrors.New("order checker is required")
	}
	if params.Engine == nil {
		return nil, stdErrors.New("releaser is required")
	}
	return &ExpiryJob{
		campaigns: params.Campaigns,
		store:     params.Store,
		orders:    params.Orders,
		engine:    params.Engine,
		cfg:       params.Config,
		logger:    params.Logger,
		now:       time.Now,
	}, nil
}

func (j *ExpiryJob) Name() string { return "reservation_expiry" }

func (j *ExpiryJob) Run(ctx context.Context) error {
	active, err := j.campaigns.ListActive(ctx, j.cfg.GracePeriod)
	if err != nil {
		return err
	}
	var errs error
	for _, campaign := range active {
		if err := j.sweepCampaign(ctx, campaign); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (j *ExpiryJob) sweepCampaign(ctx context.Context, campaign models.Campaign) error {
	id := campaign.ID.String()
	deadline := fmt.Sprint(j.now().UnixMilli())
	expired, err := j.store.ZRangeByScore(ctx, j.store.ReservationSetKey(id), "-inf", deadline)
	if err != nil {
		return err
	}

	var errs error
	released, retained := 0, 0
	for _, userID := range expired {
		restocked, err := j.sweepReservation(ctx, campaign.ID, userID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if restocked {
			released++
		} else {
			retained++
		}
	}

	if j.logger != nil && (released > 0 || retained > 0) {
		logCtx := j.logger.WithFields(ctx, map[string]any{
			"campaign_id": id,
			"released":    released,
			"retained":    retained,
		})
		j.logger.Info(logCtx, "expired reservations swept")
	}
	return errs
}

// sweepReservation handles one expired hold and reports whether its unit
// went back to the pool. A materialized hold is retained, never released:
// dropping its record would let the user reserve a second unit.
func (j *ExpiryJob) sweepReservation(ctx context.Context, campaignID uuid.UUID, userID string) (bool, error) {
	id := campaignID.String()
	rawResvID, err := j.store.HGet(ctx, j.store.ReservationIDKey(id), userID)
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			// Record already cleaned up by a concurrent sweep.
			return false, nil
		}
		return false, err
	}

	if resvID, parseErr := uuid.Parse(rawResvID); parseErr == nil {
		materialized, err := j.orders.ExistsForReservation(ctx, resvID)
		if err != nil {
			return false, err
		}
		if materialized {
			_, err := j.engine.Retain(ctx, id, userID, rawResvID)
			return false, err
		}
	}

	released, err := j.engine.Release(ctx, id, userID, rawResvID)
	if err != nil {
		return false, err
	}
	return released, nil
}
