package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rmoncada/flashsale-backend/internal/ratelimit"
	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/metrics"
)

// Tier identifies which throttle shed a request.
type Tier string

const (
	TierGlobal Tier = "global"
	TierIP     Tier = "ip"
	TierUser   Tier = "user"
)

// Request is the admission view of an inbound reserve call. PerUserWindow
// comes from the campaign definition (perUserLimit).
type Request struct {
	CampaignID    string
	UserID        string
	IP            string
	PerUserWindow time.Duration
}

// Decision is the gate verdict. Tier and RetryAfter are only set on rejection.
type Decision struct {
	Allowed    bool
	Tier       Tier
	RetryAfter time.Duration
}

type keyBuilder interface {
	RateLimitKey(scope string) string
}

// GateParams configure the multi-tier gate.
type GateParams struct {
	Store   redis.Scripter
	Keys    keyBuilder
	Config  config.AdmissionConfig
	Metrics *metrics.ReservationMetrics
}

// Gate sheds excess traffic before it reaches the reservation engine. Tiers
// run in order (global, per-IP, per-user) and the first rejection
// short-circuits, so later tiers see no side effects. The gate never touches
// stock state.
type Gate struct {
	global  ratelimit.Limiter
	ip      ratelimit.Limiter
	store   redis.Scripter
	keys    keyBuilder
	cfg     config.AdmissionConfig
	metrics *metrics.ReservationMetrics
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Store == nil {
		return nil, errors.New("script store is required")
	}
	if params.Keys == nil {
		return nil, errors.New("key builder is required")
	}
	g := &Gate{
		store:   params.Store,
		keys:    params.Keys,
		cfg:     params.Config,
		metrics: params.Metrics,
	}
	if params.Config.GlobalLimit > 0 {
		g.global = ratelimit.NewFixedWindow(params.Store, params.Config.GlobalWindow, params.Config.GlobalLimit)
	}
	if params.Config.IPLimit > 0 {
		g.ip = ratelimit.NewSlidingWindow(params.Store, params.Config.IPWindow, params.Config.IPLimit)
	}
	return g, nil
}

// Admit runs the tiers in order and returns the first rejection, if any.
// A store error aborts the request rather than letting traffic through
// unmetered.
func (g *Gate) Admit(ctx context.Context, req Request) (Decision, error) {
	if g.global != nil {
		decision, err := g.global.TryConsume(ctx, g.keys.RateLimitKey("global"), 1)
		if err != nil {
			return Decision{}, fmt.Errorf("global tier: %w", err)
		}
		if !decision.Allowed {
			return g.reject(TierGlobal, decision), nil
		}
	}

	if g.ip != nil && req.IP != "" {
		decision, err := g.ip.TryConsume(ctx, g.keys.RateLimitKey("ip:"+req.IP), 1)
		if err != nil {
			return Decision{}, fmt.Errorf("ip tier: %w", err)
		}
		if !decision.Allowed {
			return g.reject(TierIP, decision), nil
		}
	}

	if g.cfg.UserBurst > 0 && req.UserID != "" && req.PerUserWindow > 0 {
		bucket := g.userBucket(req.PerUserWindow)
		scope := fmt.Sprintf("user:%s:%s", req.CampaignID, req.UserID)
		decision, err := bucket.TryConsume(ctx, g.keys.RateLimitKey(scope), 1)
		if err != nil {
			return Decision{}, fmt.Errorf("user tier: %w", err)
		}
		if !decision.Allowed {
			return g.reject(TierUser, decision), nil
		}
	}

	return Decision{Allowed: true}, nil
}

// userBucket builds the per-user limiter for a campaign's window. The bucket
// holds no in-process state, so constructing one per call is safe.
func (g *Gate) userBucket(window time.Duration) ratelimit.Limiter {
	return ratelimit.NewTokenBucket(g.store, g.cfg.UserBurst, window)
}

func (g *Gate) reject(tier Tier, decision ratelimit.Decision) Decision {
	if g.metrics != nil {
		g.metrics.IncAdmissionRejection(string(tier))
	}
	return Decision{Allowed: false, Tier: tier, RetryAfter: decision.RetryAfter}
}
