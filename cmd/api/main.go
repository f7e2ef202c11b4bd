package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commercekit/checkout-backend/api/routes"
	"github.com/commercekit/checkout-backend/internal/cart"
	"github.com/commercekit/checkout-backend/internal/checkout"
	"github.com/commercekit/checkout-backend/internal/inventory"
	"github.com/commercekit/checkout-backend/internal/orders"
	"github.com/commercekit/checkout-backend/internal/payments"
	"github.com/commercekit/checkout-backend/internal/products"
	"github.com/commercekit/checkout-backend/internal/reservation"
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
	requireResource(logg, "database", err)
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
	requireResource(logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	requireResource(logg, "square client", err)

	registry := prometheus.NewRegistry()

	productRepo := products.NewRepository(dbClient.DB())
	catalog, err := products.NewCatalog(productRepo)
	requireResource(logg, "product catalog", err)
	cachedCatalog, err := products.NewCachedCatalog(catalog, redisClient, logg, cfg.Cart.ProductCacheTTL)
	requireResource(logg, "product catalog cache", err)

	inventoryRepo := inventory.NewRepository(dbClient.DB())
	inventoryService, err := inventory.NewService(inventoryRepo, logg)
	requireResource(logg, "inventory service", err)

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
	requireResource(logg, "reservation service", err)

	cartStore, err := cart.NewStore(redisClient, logg, cfg.Cart)
	requireResource(logg, "cart store", err)
	cartService, err := cart.NewService(cartStore, cachedCatalog, inventoryService, logg)
	requireResource(logg, "cart service", err)

	paymentsService, err := payments.NewService(payments.NewRepository(dbClient.DB()), squareClient, logg)
	requireResource(logg, "payments service", err)

	ordersService, err := orders.NewService(dbClient, orders.NewRepository(dbClient.DB()), inventoryService, outboxService, logg)
	requireResource(logg, "orders service", err)

	sessionStore, err := checkout.NewSessionStore(redisClient, logg, cfg.Checkout.SessionTTL())
	requireResource(logg, "checkout session store", err)

	checkoutService, err := checkout.NewService(
		dbClient,
		cartService,
		reservationService,
		paymentsService,
		ordersService,
		sessionStore,
		checkout.NewPricer(cfg.Checkout),
		logg,
		reservation.NormalizeTTL(cfg.Checkout.ReservationTTLMinutes),
	)
	requireResource(logg, "checkout service", err)

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
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			registry,
			cartService,
			checkoutService,
			inventoryService,
			ordersService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), fmt.Sprintf("failed to bootstrap %s", resource), err)
	os.Exit(1)
}
