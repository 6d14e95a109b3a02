package reconcile

import (
	"context"
	stdErrors "errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/pubsub"
)

// campaignLister supplies the campaigns worth reconciling.
type campaignLister interface {
	ListActive(ctx context.Context, grace time.Duration) ([]models.Campaign, error)
}

// orderCounter reports how many durable orders hold stock for a campaign.
type orderCounter interface {
	CountHeld(ctx context.Context, campaignID uuid.UUID) (int64, error)
}

// stockCorrector applies a compare-and-set against the live counter.
type stockCorrector interface {
	CorrectStock(ctx context.Context, campaignID string, observed, expected int64) (bool, error)
}

// liveStore reads live campaign state.
type liveStore interface {
	Get(ctx context.Context, key string) (string, error)
	StockKey(campaignID string) string
}

// alertPublisher pushes drift alerts to the operational channel. Optional.
type alertPublisher interface {
	PublishAlert(ctx context.Context, alert pubsub.Alert) error
}

// ReconcilerParams configure the drift-repair job.
type ReconcilerParams struct {
	Campaigns campaignLister
	Orders    orderCounter
	Engine    stockCorrector
	Store     liveStore
	Alerts    alertPublisher
	Config    config.ReconcilerConfig
	Logger    *logger.Logger
}

// Reconciler compares live stock against the durable ledger and repairs
// small drift. The durable side is authoritative: expected stock is total
// stock minus orders still holding a unit. Corrections are compare-and-set,
// so a reserve that lands mid-reconcile wins and the repair waits for the
// next cycle.
type Reconciler struct {
	campaigns campaignLister
	orders    orderCounter
	engine    stockCorrector
	store     liveStore
	alerts    alertPublisher
	cfg       config.ReconcilerConfig
	logger    *logger.Logger
	now       func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Campaigns == nil {
		return nil, stdErrors.New("campaign lister is required")
	}
	if params.Orders == nil {
		return nil, stdErrors.New("order counter is required")
	}
	if params.Engine == nil {
		return nil, stdErrors.New("stock corrector is required")
	}
	if params.Store == nil {
		return nil, stdErrors.New("live store is required")
	}
	return &Reconciler{
		campaigns: params.Campaigns,
		orders:    params.Orders,
		engine:    params.Engine,
		store:     params.Store,
		alerts:    params.Alerts,
		cfg:       params.Config,
		logger:    params.Logger,
		now:       time.Now,
	}, nil
}

func (r *Reconciler) Name() string { return "stock_reconciler" }

// Run reconciles every active campaign. Per-campaign failures are collected
// so one broken campaign does not stall the rest.
func (r *Reconciler) Run(ctx context.Context) error {
	active, err := r.campaigns.ListActive(ctx, r.cfg.GracePeriod)
	if err != nil {
		return err
	}
	var errs error
	for _, campaign := range active {
		if err := r.reconcileCampaign(ctx, campaign); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// ReconcileOne reconciles a single campaign on demand, outside the
// scheduled cycle.
func (r *Reconciler) ReconcileOne(ctx context.Context, campaign models.Campaign) error {
	return r.reconcileCampaign(ctx, campaign)
}

func (r *Reconciler) reconcileCampaign(ctx context.Context, campaign models.Campaign) error {
	id := campaign.ID.String()
	logCtx := ctx
	if r.logger != nil {
		logCtx = r.logger.WithCampaignID(ctx, id)
	}

	observed, warmed, err := r.liveStock(ctx, id)
	if err != nil {
		return err
	}
	if !warmed {
		// Nothing to reconcile until warmup seeds the counter.
		return nil
	}

	held, err := r.orders.CountHeld(ctx, campaign.ID)
	if err != nil {
		return err
	}
	expected := campaign.TotalStock - held
	if expected < 0 {
		expected = 0
	}
	drift := observed - expected
	if drift == 0 {
		return nil
	}

	if r.logger != nil {
		logCtx = r.logger.WithFields(logCtx, map[string]any{
			"observed": observed,
			"expected": expected,
			"drift":    drift,
		})
	}

	if abs64(drift) > r.cfg.DriftThreshold {
		// Drift this large means something structural went wrong. Alert a
		// human instead of papering over it.
		if r.logger != nil {
			r.logger.Error(logCtx, "stock drift exceeds threshold", nil)
		}
		return r.publishDriftAlert(ctx, id, drift)
	}

	applied, err := r.engine.CorrectStock(ctx, id, observed, expected)
	if err != nil {
		return err
	}
	if r.logger != nil {
		if applied {
			r.logger.Warn(logCtx, "live stock corrected")
		} else {
			r.logger.Info(logCtx, "stock moved during reconcile; correction skipped")
		}
	}
	return nil
}

// liveStock reads the live counter. A missing key means the campaign was
// never warmed.
func (r *Reconciler) liveStock(ctx context.Context, campaignID string) (int64, bool, error) {
	raw, err := r.store.Get(ctx, r.store.StockKey(campaignID))
	if err != nil {
		if stdErrors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

func (r *Reconciler) publishDriftAlert(ctx context.Context, campaignID string, drift int64) error {
	if r.alerts == nil {
		return nil
	}
	return r.alerts.PublishAlert(ctx, pubsub.Alert{
		Kind:       "stock_drift",
		CampaignID: campaignID,
		Detail:     "live stock drift exceeds correction threshold",
		Drift:      drift,
		OccurredAt: r.now().UTC(),
	})
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
