package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmoncada/flashsale-backend/internal/campaigns"
	"github.com/rmoncada/flashsale-backend/internal/cron"
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
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	reservationMetrics := metrics.NewReservationMetrics(prometheus.DefaultRegisterer)
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

	expiryJob, err := reconcile.NewExpiryJob(reconcile.ExpiryJobParams{
		Campaigns: campaignService,
		Store:     redisClient,
		Orders:    orderRepo,
		Engine:    engine,
		Config:    cfg.Reconciler,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey(), cfg.Reconciler.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, reconciler),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconciler.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
