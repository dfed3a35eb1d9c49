// Package pubsub adapts Google Cloud Pub/Sub v2 to the broker-neutral outbox Sink and Handler.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	logg      *logger.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscription    = errors.New("pubsub orders subscription is required")
)

// NewClient creates a Pub/Sub v2 client. When requireSubscription is set the orders
// subscription must already exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, requireSubscription bool) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if logg == nil {
		logg = logger.Nop()
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		logg:       logg,
		publishers: map[string]*pubsub.Publisher{},
	}

	if requireSubscription {
		if err := c.ensureSubscriptionExists(ctx, cfg.OrdersSubscription); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	logg.Info(ctx, "pubsub client initialized")
	return c, nil
}

func (c *Client) ensureSubscriptionExists(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errNoSubscription
	}
	fullName := c.subscriptionResourceName(name)

	_, err := c.client.SubscriptionAdminClient.GetSubscription(
		ctx,
		&pubsubpb.GetSubscriptionRequest{Subscription: fullName},
	)
	if err != nil {
		// v2 uses gRPC errors; NotFound means the subscription doesn't exist.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q does not exist", name)
		}
		return fmt.Errorf("checking subscription %q: %w", name, err)
	}
	return nil
}

// Publish implements outbox.Sink. It blocks until the server acknowledged the message.
func (c *Client) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	pub := c.publisher(topic)
	if pub == nil {
		return fmt.Errorf("pubsub topic %q not configured", topic)
	}
	result := pub.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) publisher(topic string) *pubsub.Publisher {
	fullName := c.topicResourceName(topic)
	if fullName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	c.publishers[fullName] = pub
	return pub
}

// ReceiveOrders streams the orders subscription into handler until ctx ends. A nil handler
// error acks the message; any other error nacks it for redelivery.
func (c *Client) ReceiveOrders(ctx context.Context, handler outbox.Handler) error {
	if strings.TrimSpace(c.cfg.OrdersSubscription) == "" {
		return errNoSubscription
	}
	sub := c.client.Subscriber(c.subscriptionResourceName(c.cfg.OrdersSubscription))
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		err := handler(ctx, outbox.Message{
			Key:        m.Attributes[outbox.AttrAggregateID],
			Data:       m.Data,
			Attributes: m.Attributes,
		})
		if err != nil {
			c.logg.Error(c.logg.WithField(ctx, "message_id", m.ID), "pubsub handler failed", err)
			m.Nack()
			return
		}
		m.Ack()
	})
}

// Ping verifies connectivity by looking up the orders subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureSubscriptionExists(ctx, c.cfg.OrdersSubscription)
}

// Close flushes publishers and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	return c.resourceName(name, "subscriptions")
}

func (c *Client) topicResourceName(name string) string {
	return c.resourceName(name, "topics")
}

func (c *Client) resourceName(name, kind string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
