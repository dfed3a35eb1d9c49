package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tishop/marketplace-backend/internal/notifications"
	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db"
	"github.com/tishop/marketplace-backend/pkg/instance"
	"github.com/tishop/marketplace-backend/pkg/kafka"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/mailer"
	"github.com/tishop/marketplace-backend/pkg/metrics"
	"github.com/tishop/marketplace-backend/pkg/outbox/idempotency"
	"github.com/tishop/marketplace-backend/pkg/outbox/registry"
	"github.com/tishop/marketplace-backend/pkg/pubsub"
	"github.com/tishop/marketplace-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notification-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "notification-worker"

	logg = logger.New(logger.Options{
		ServiceName: "notification-worker",
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

	params := ServiceParams{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Redis:  redisClient,
	}

	topic := cfg.PubSub.OrdersTopic
	if cfg.Outbox.UsesKafka() {
		topic = cfg.Kafka.Topic
		consumer, err := kafka.NewConsumer(cfg.Kafka, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap kafka consumer", err)
			os.Exit(1)
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logg.Error(context.Background(), "error closing kafka consumer", err)
			}
		}()
		params.BrokerName = config.BrokerKafka
		params.Receive = consumer.Run
	} else {
		client, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg, true)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		params.Broker = client
		params.BrokerName = config.BrokerPubSub
		params.Receive = client.ReceiveOrders
	}

	eventRegistry, err := registry.NewEventRegistry(topic)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to build idempotency manager", err)
		os.Exit(1)
	}
	sender, err := mailer.NewSMTPSender(cfg.SMTP)
	if err != nil {
		logg.Error(context.Background(), "failed to build smtp sender", err)
		os.Exit(1)
	}
	notificationConsumer, err := notifications.NewConsumer(eventRegistry, guard, sender, cfg.MonCash.ConfirmPageURL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification consumer", err)
		os.Exit(1)
	}
	params.Notification = notificationConsumer.Handle

	service, err := NewService(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "notification-worker",
		"instance":    instance.ID(),
		"broker":      params.BrokerName,
	})
	logg.Info(ctx, "starting notification worker")

	reg := prometheus.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, reg) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
