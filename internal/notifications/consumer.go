package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/mailer"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/idempotency"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
	"github.com/tishop/marketplace-backend/pkg/outbox/registry"
)

const orderConfirmationConsumer = "order-confirmation-email"

type resolver interface {
	ResolveMessage(msg outbox.Message) (*registry.ResolvedEvent, error)
}

type processedGuard interface {
	Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) error
}

// Consumer turns order_paid events into the customer's confirmation email.
type Consumer struct {
	registry    resolver
	idempotency processedGuard
	sender      mailer.Sender
	trackingURL string
	logg        *logger.Logger
}

// NewConsumer builds the order confirmation consumer. trackingURL is the storefront page
// the email links to; the order id is appended as a query parameter.
func NewConsumer(reg resolver, guard processedGuard, sender mailer.Sender, trackingURL string, logg *logger.Logger) (*Consumer, error) {
	if reg == nil {
		return nil, fmt.Errorf("event registry required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if sender == nil {
		return nil, fmt.Errorf("mail sender required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		registry:    reg,
		idempotency: guard,
		sender:      sender,
		trackingURL: strings.TrimSpace(trackingURL),
		logg:        logg,
	}, nil
}

// Handle processes one broker message. A nil return acks it; an error asks for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg outbox.Message) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   msg.Attributes[outbox.AttrEventID],
		"event_type": msg.Attributes[outbox.AttrEventType],
	})

	if msg.Attributes[outbox.AttrEventType] != string(enums.EventOrderPaid) {
		c.logg.Debug(logCtx, "skipping non order_paid event")
		return nil
	}

	resolved, err := c.registry.ResolveMessage(msg)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Error(logCtx, "dropping undecodable event", err)
			return nil
		}
		return err
	}

	payload, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", resolved.Payload))
		return nil
	}

	eventID, err := uuid.Parse(resolved.Envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return nil
	}

	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID.String())
	if strings.TrimSpace(payload.CustomerEmail) == "" {
		c.logg.Warn(logCtx, "order has no customer email")
		return nil
	}

	err = c.idempotency.Run(ctx, orderConfirmationConsumer, eventID, func(ctx context.Context) error {
		return c.send(ctx, payload)
	})
	switch {
	case errors.Is(err, idempotency.ErrAlreadyProcessed):
		c.logg.Info(logCtx, "confirmation already sent")
		return nil
	case err != nil:
		c.logg.Error(logCtx, "confirmation email failed", err)
		return err
	}
	c.logg.Info(logCtx, "confirmation email sent")
	return nil
}

func (c *Consumer) send(ctx context.Context, event *payloads.OrderPaidEvent) error {
	data := mailer.OrderConfirmation{
		CustomerName: event.CustomerName,
		OrderNumber:  event.OrderNumber,
		OrderID:      event.OrderID.String(),
		PaidAt:       event.PaidAt,
		Total:        event.TotalAmount,
		TrackingURL:  c.trackingLink(event.OrderID),
	}
	for _, code := range event.Codes {
		data.Shipments = append(data.Shipments, mailer.ShipmentCode{Code: code.DeliveryCode, Amount: code.TotalAmount})
	}

	msg, err := mailer.RenderOrderConfirmation(event.CustomerEmail, data)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, msg)
}

func (c *Consumer) trackingLink(orderID uuid.UUID) string {
	if c.trackingURL == "" {
		return ""
	}
	u, err := url.Parse(c.trackingURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("orderId", orderID.String())
	u.RawQuery = q.Encode()
	return u.String()
}
