package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tishop/marketplace-backend/internal/cron"
	"github.com/tishop/marketplace-backend/internal/settlement"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	"github.com/tishop/marketplace-backend/pkg/migrate"
	"github.com/tishop/marketplace-backend/pkg/moncash"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/redis"
)

const lockNameFormat = "cron-worker:%s"

func main() {
	var (
		once bool
		job  string
	)
	root := &cobra.Command{
		Use:           "cron-worker",
		Short:         "Runs scheduled settlement maintenance jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), once, job)
		},
	}
	root.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	root.Flags().StringVar(&job, "job", "", "with --once, run only the named job")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once bool, jobName string) error {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gateway, err := moncash.NewClient(cfg.MonCash, moncash.NewRedisTokenCache(redisClient))
	if err != nil {
		return fmt.Errorf("create moncash client: %w", err)
	}

	reg := prometheus.NewRegistry()
	outboxRepo := outbox.NewRepository(dbClient.DB())
	settlementRepo := settlement.NewRepository(dbClient.DB())
	settlementService, err := settlement.NewService(
		settlementRepo,
		dbClient,
		outbox.NewService(outboxRepo, logg),
		gateway,
		logg,
		settlement.ConfigFrom(cfg),
		settlement.WithMetrics(metrics.NewSettlementMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("create settlement service: %w", err)
	}

	expiryJob, err := cron.NewPendingOrderExpiryJob(cron.PendingOrderExpiryJobParams{
		Logger:    logg,
		Orders:    settlementRepo,
		Canceller: settlementService,
		TTL:       cfg.Settlement.PendingOrderTTL,
	})
	if err != nil {
		return fmt.Errorf("create expiry job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Settlement.OutboxRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("create outbox retention job: %w", err)
	}

	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), 0)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiryJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(reg),
		Interval: cfg.Settlement.CronInterval,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if once {
		logg.Info(ctx, "running single cron cycle")
		return service.RunOnce(ctx, jobName)
	}

	logg.Info(ctx, "starting cron worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, reg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env)
}
