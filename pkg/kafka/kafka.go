// Package kafka adapts segmentio/kafka-go to the broker-neutral outbox Sink and Handler.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
)

const (
	maxHandlerAttempts = 3
	handlerBackoff     = 500 * time.Millisecond
	readerMaxBytes     = 10e6
)

var errNoBrokers = errors.New("kafka brokers are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox messages keyed by aggregate id, so one order's events land on
// one partition in order.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Publish implements outbox.Sink.
func (p *Publisher) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Attributes))
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Consumer reads the orders topic as part of a consumer group.
type Consumer struct {
	reader messageReader
	logg   *logger.Logger
	sleep  func(time.Duration)
}

func NewConsumer(cfg config.KafkaConfig, logg *logger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errNoBrokers
	}
	if logg == nil {
		logg = logger.Nop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: readerMaxBytes,
	})
	return &Consumer{reader: reader, logg: logg, sleep: time.Sleep}, nil
}

// Run feeds messages to handler until ctx ends. Offsets are committed after the handler
// returns; a message that keeps failing is logged and committed so the partition moves on.
func (c *Consumer) Run(ctx context.Context, handler outbox.Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		msg := toOutboxMessage(m)
		var handleErr error
		for attempt := 1; attempt <= maxHandlerAttempts; attempt++ {
			if handleErr = handler(ctx, msg); handleErr == nil {
				break
			}
			if attempt < maxHandlerAttempts {
				c.sleep(time.Duration(attempt) * handlerBackoff)
			}
		}
		if handleErr != nil {
			c.logg.Error(c.logg.WithFields(ctx, map[string]any{
				"topic":     m.Topic,
				"partition": m.Partition,
				"offset":    m.Offset,
			}), "kafka handler gave up on message", handleErr)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toOutboxMessage(m kafka.Message) outbox.Message {
	attrs := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	return outbox.Message{Key: string(m.Key), Data: m.Value, Attributes: attrs}
}
