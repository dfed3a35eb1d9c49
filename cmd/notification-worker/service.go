package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Receiver pulls order events from the broker and hands each one to the handler.
type Receiver func(ctx context.Context, handler outbox.Handler) error

type ServiceParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           pinger
	Redis        pinger
	Broker       pinger
	BrokerName   string
	Receive      Receiver
	Notification outbox.Handler
	Heartbeat    time.Duration
}

type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           pinger
	redis        pinger
	broker       pinger
	brokerName   string
	receive      Receiver
	notification outbox.Handler
	heartbeat    time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Receive == nil {
		return nil, errors.New("broker receiver is required")
	}
	if params.Notification == nil {
		return nil, errors.New("notification consumer is required")
	}
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		redis:        params.Redis,
		broker:       params.Broker,
		brokerName:   params.BrokerName,
		receive:      params.Receive,
		notification: params.Notification,
		heartbeat:    heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if s.broker != nil {
		if err := pingDependency(ctx, s.logg, s.brokerName, s.broker.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until the context ends or the broker receiver stops.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.receive(ctx, s.notification)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "notification consumer stopped unexpectedly", err)
				return err
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
