package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmoncada/flashsale-backend/api/controllers"
	"github.com/rmoncada/flashsale-backend/api/middleware"
	"github.com/rmoncada/flashsale-backend/internal/admission"
	"github.com/rmoncada/flashsale-backend/internal/campaigns"
	"github.com/rmoncada/flashsale-backend/internal/deadletter"
	"github.com/rmoncada/flashsale-backend/internal/reconcile"
	"github.com/rmoncada/flashsale-backend/internal/reservation"
	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/db"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/redis"
)

// RouterParams collect everything the HTTP surface needs.
type RouterParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       *redis.Client
	Campaigns   *campaigns.Service
	Gate        *admission.Gate
	Engine      *reservation.Engine
	Reconciler  *reconcile.Reconciler
	DeadLetters *deadletter.Repo
	Registry    *prometheus.Registry
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, map[string]controllers.Pinger{
			"database": p.DB,
			"redis":    p.Redis,
		}))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/campaigns", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(p.Redis, p.Logger))
			r.Post("/{campaignId}/reserve", controllers.Reserve(p.Campaigns, p.Gate, p.Engine, p.Logger))
		})
		r.Get("/{campaignId}", controllers.GetCampaign(p.Campaigns, p.Logger))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminAuth(p.Config.AdminAuth, p.Logger))
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", controllers.CreateCampaign(p.Campaigns, p.Logger))
			r.Post("/{campaignId}/warmup", controllers.WarmupCampaign(p.Campaigns, p.Logger))
			r.Post("/{campaignId}/abort", controllers.AbortCampaign(p.Campaigns, p.Logger))
			r.Post("/{campaignId}/reconcile", controllers.ReconcileCampaign(p.Campaigns, p.Reconciler, p.Logger))
		})
		r.Get("/dead-letters", controllers.ListDeadLetters(p.DeadLetters, p.Logger))
	})

	return r
}
