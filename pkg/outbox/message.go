package outbox

import (
	"context"
	"time"

	"github.com/tishop/marketplace-backend/pkg/db/models"
)

// Message attribute keys shared by every broker.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
)

// Message is the broker-neutral form of a published outbox row.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker topic. Publish returns once the broker acknowledged.
type Sink interface {
	Publish(ctx context.Context, topic string, msg Message) error
}

// Handler consumes messages delivered by a broker subscription.
type Handler func(ctx context.Context, msg Message) error

// MessageFromEvent builds the broker message for an outbox row. The aggregate id is the
// partition key so events for one order stay ordered.
func MessageFromEvent(event models.OutboxEvent, eventID string) Message {
	return Message{
		Key:  event.AggregateID.String(),
		Data: event.Payload,
		Attributes: map[string]string{
			AttrEventID:       eventID,
			AttrEventType:     string(event.EventType),
			AttrAggregateType: string(event.AggregateType),
			AttrAggregateID:   event.AggregateID.String(),
			AttrCreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
