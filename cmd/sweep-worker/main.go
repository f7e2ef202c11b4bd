package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commercekit/checkout-backend/internal/checkout"
	"github.com/commercekit/checkout-backend/internal/inventory"
	"github.com/commercekit/checkout-backend/internal/payments"
	"github.com/commercekit/checkout-backend/internal/reservation"
	"github.com/commercekit/checkout-backend/internal/sweeper"
	"github.com/commercekit/checkout-backend/pkg/config"
	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/metrics"
	"github.com/commercekit/checkout-backend/pkg/migrate"
	"github.com/commercekit/checkout-backend/pkg/outbox"
	"github.com/commercekit/checkout-backend/pkg/redis"
	"github.com/commercekit/checkout-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()

	inventoryRepo := inventory.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	reservationService, err := reservation.NewService(
		dbClient,
		reservation.NewRepository(dbClient.DB()),
		inventoryRepo,
		outboxService,
		logg,
		metrics.NewReservationMetrics(registry),
		reservation.NormalizeTTL(cfg.Checkout.ReservationTTLMinutes),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.NewRepository(dbClient.DB()), squareClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	sessionStore, err := checkout.NewSessionStore(redisClient, logg, cfg.Checkout.SessionTTL())
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout session store", err)
		os.Exit(1)
	}

	svc, err := sweeper.NewService(
		redisClient,
		logg,
		metrics.NewSweepJobMetrics(registry),
		cfg.Sweeper.Interval,
		sweeper.NewExpiredReservationsJob(reservationService),
		sweeper.NewCartRepairJob(redisClient, logg, cfg.Cart.AnonymousTTL),
		sweeper.NewStaleSessionsJob(sessionStore, reservationService, paymentsService, logg),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "sweep-worker",
	})
	logg.Info(ctx, "starting sweep worker")

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}
