package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func noopHandler(context.Context, outbox.Message) error { return nil }

func baseParams() ServiceParams {
	return ServiceParams{
		Config:       &config.Config{},
		Logger:       logger.Nop(),
		DB:           stubPinger{},
		Redis:        stubPinger{},
		BrokerName:   config.BrokerKafka,
		Notification: noopHandler,
		Receive: func(ctx context.Context, _ outbox.Handler) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

func TestNewServiceRequiresReceiverAndConsumer(t *testing.T) {
	params := baseParams()
	params.Receive = nil
	_, err := NewService(params)
	require.Error(t, err)

	params = baseParams()
	params.Notification = nil
	_, err = NewService(params)
	require.Error(t, err)
}

func TestRunStopsWhenDependencyUnreachable(t *testing.T) {
	params := baseParams()
	params.Broker = stubPinger{err: errors.New("no route")}
	params.BrokerName = config.BrokerPubSub
	svc, err := NewService(params)
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "pubsub ping failed")
}

func TestRunHandsMessagesToNotificationConsumer(t *testing.T) {
	var handled []string
	params := baseParams()
	params.Notification = func(_ context.Context, msg outbox.Message) error {
		handled = append(handled, msg.Attributes[outbox.AttrEventType])
		return nil
	}
	params.Receive = func(ctx context.Context, handler outbox.Handler) error {
		return handler(ctx, outbox.Message{Attributes: map[string]string{outbox.AttrEventType: "order_paid"}})
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	require.NoError(t, svc.Run(context.Background()))
	require.Equal(t, []string{"order_paid"}, handled)
}

func TestRunReturnsOnCancel(t *testing.T) {
	params := baseParams()
	params.Heartbeat = 10 * time.Millisecond
	svc, err := NewService(params)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = svc.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
