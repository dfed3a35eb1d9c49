package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tishop/marketplace-backend/api"
	"github.com/tishop/marketplace-backend/api/routes"
	"github.com/tishop/marketplace-backend/internal/catalog"
	"github.com/tishop/marketplace-backend/internal/orders"
	"github.com/tishop/marketplace-backend/internal/payouts"
	"github.com/tishop/marketplace-backend/internal/settlement"
	moncashwebhook "github.com/tishop/marketplace-backend/internal/webhooks/moncash"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/instance"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	"github.com/tishop/marketplace-backend/pkg/migrate"
	"github.com/tishop/marketplace-backend/pkg/moncash"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/redis"
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
		Format:      cfg.App.LogFormat,
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

	gateway, err := moncash.NewClient(cfg.MonCash, moncash.NewRedisTokenCache(redisClient))
	if err != nil {
		logg.Error(context.Background(), "failed to create moncash client", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(reg)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	settlementService, err := settlement.NewService(
		settlement.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		gateway,
		logg,
		settlement.ConfigFrom(cfg),
		settlement.WithMetrics(settlementMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(
		orders.NewRepository(dbClient.DB()),
		catalog.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		logg,
		orders.WithNumberAttempts(cfg.Settlement.OrderNumberAttempts),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	payoutService, err := payouts.NewService(
		payouts.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		logg,
		cfg.Settlement.HoldingPeriod,
		payouts.WithMetrics(settlementMetrics),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payout service", err)
		os.Exit(1)
	}

	webhookGuard, err := moncashwebhook.NewIdempotencyGuard(redisClient, cfg.Settlement.WebhookGuardTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := moncashwebhook.NewService(settlementService, webhookGuard, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create moncash webhook service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:               dbClient,
		Redis:            redisClient,
		IdempotencyStore: redisClient,
		Metrics:          reg,
		Orders:           orderService,
		Settlement:       settlementService,
		Payouts:          payoutService,
		Webhook:          webhookService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"moncash_mode": cfg.MonCash.Mode,
		"instance":     instance.ID(),
	})
	logg.Info(ctx, "starting api server")

	server := api.NewServer(addr, cfg.Service.OTelName, router)
	if err := api.Run(ctx, server, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
