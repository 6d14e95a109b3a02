package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmoncada/flashsale-backend/api/routes"
	"github.com/rmoncada/flashsale-backend/internal/admission"
	"github.com/rmoncada/flashsale-backend/internal/campaigns"
	"github.com/rmoncada/flashsale-backend/internal/deadletter"
	"github.com/rmoncada/flashsale-backend/internal/orders"
	"github.com/rmoncada/flashsale-backend/internal/reconcile"
	"github.com/rmoncada/flashsale-backend/internal/reservation"
	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/db"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/metrics"
	"github.com/rmoncada/flashsale-backend/pkg/migrate"
	"github.com/rmoncada/flashsale-backend/pkg/pubsub"
	"github.com/rmoncada/flashsale-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	reservationMetrics := metrics.NewReservationMetrics(promRegistry)

	engine, err := reservation.NewEngine(reservation.EngineParams{
		Store:       redisClient.Scripter(),
		Keys:        redisClient,
		EventStream: cfg.Reservation.EventStream,
		TTL:         cfg.Reservation.TTL,
		Logger:      logg,
		Metrics:     reservationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation engine", err)
		os.Exit(1)
	}

	gate, err := admission.NewGate(admission.GateParams{
		Store:   redisClient.Scripter(),
		Keys:    redisClient,
		Config:  cfg.Admission,
		Metrics: reservationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admission gate", err)
		os.Exit(1)
	}

	campaignRepo, err := campaigns.NewRepo(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create campaign repo", err)
		os.Exit(1)
	}
	campaignService, err := campaigns.NewService(campaigns.ServiceParams{
		Repo:   campaignRepo,
		Engine: engine,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create campaign service", err)
		os.Exit(1)
	}

	orderRepo, err := orders.NewRepo(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create order repo", err)
		os.Exit(1)
	}
	deadLetterRepo, err := deadletter.NewRepo(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create dead letter repo", err)
		os.Exit(1)
	}

	var alerts *pubsub.Client
	if cfg.AlertsEnabled() {
		alerts, err = pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := alerts.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
	}

	reconcilerParams := reconcile.ReconcilerParams{
		Campaigns: campaignService,
		Orders:    orderRepo,
		Engine:    engine,
		Store:     redisClient,
		Config:    cfg.Reconciler,
		Logger:    logg,
	}
	if alerts != nil {
		reconcilerParams.Alerts = alerts
	}
	reconciler, err := reconcile.NewReconciler(reconcilerParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Campaigns:   campaignService,
			Gate:        gate,
			Engine:      engine,
			Reconciler:  reconciler,
			DeadLetters: deadLetterRepo,
			Registry:    promRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
