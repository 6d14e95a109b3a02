package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmoncada/flashsale-backend/internal/deadletter"
	"github.com/rmoncada/flashsale-backend/internal/orders"
	"github.com/rmoncada/flashsale-backend/pkg/config"
	"github.com/rmoncada/flashsale-backend/pkg/db"
	"github.com/rmoncada/flashsale-backend/pkg/logger"
	"github.com/rmoncada/flashsale-backend/pkg/metrics"
	"github.com/rmoncada/flashsale-backend/pkg/migrate"
	"github.com/rmoncada/flashsale-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	reservationMetrics := metrics.NewReservationMetrics(prometheus.DefaultRegisterer)
	materializer, err := orders.NewMaterializer(orders.MaterializerParams{
		Stream:      redisClient,
		Orders:      orderRepo,
		DeadLetters: deadLetterRepo,
		StreamName:  cfg.Reservation.EventStream,
		Group:       cfg.Reservation.EventGroup,
		Consumer:    consumerName(),
		Worker:      cfg.Worker,
		Logger:      logg,
		Metrics:     reservationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create materializer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"consumer": consumerName(),
	})
	logg.Info(ctx, "starting order materializer")

	if err := materializer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "order materializer stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "order materializer shutting down gracefully")
}

// consumerName keeps pending-entry ownership stable across restarts of the
// same instance.
func consumerName() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return fmt.Sprintf("materializer-%s", id)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "materializer-0"
	}
	return fmt.Sprintf("materializer-%s", host)
}
