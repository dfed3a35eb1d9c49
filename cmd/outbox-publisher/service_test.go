package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tishop/marketplace-backend/pkg/config"
	"github.com/tishop/marketplace-backend/pkg/db/models"
	"github.com/tishop/marketplace-backend/pkg/enums"
	"github.com/tishop/marketplace-backend/pkg/logger"
	"github.com/tishop/marketplace-backend/pkg/outbox"
	"github.com/tishop/marketplace-backend/pkg/outbox/payloads"
	"github.com/tishop/marketplace-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			newEvent(t, enums.EventOrderPaid, 0),
			newEvent(t, enums.EventOrderPaid, 0),
		},
	}
	sink := &fakeSink{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishedMessageCarriesAttributes(t *testing.T) {
	event := newEvent(t, enums.EventOrderPaid, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(sink.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.sent))
	}
	got := sink.sent[0]
	if got.topic != "tishop-order-events" {
		t.Fatalf("unexpected topic %q", got.topic)
	}
	if got.msg.Key != event.AggregateID.String() {
		t.Fatalf("expected aggregate id as partition key, got %q", got.msg.Key)
	}
	if got.msg.Attributes[outbox.AttrEventType] != string(enums.EventOrderPaid) {
		t.Fatalf("unexpected event_type attribute %q", got.msg.Attributes[outbox.AttrEventType])
	}
	if got.msg.Attributes[outbox.AttrEventID] != event.ID.String() {
		t.Fatalf("unexpected event_id attribute %q", got.msg.Attributes[outbox.AttrEventID])
	}
}

func TestServiceProcessBatchParksNonRetryable(t *testing.T) {
	event := newEvent(t, enums.EventOrderPaid, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	sink := &fakeSink{}
	service := newTestService(t, repo, sink, reg, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.terminal) != 1 || repo.terminal[0] != event.ID {
		t.Fatalf("expected row parked as terminal, got %v", repo.terminal)
	}
	if repo.terminalAttempts != 5 {
		t.Fatalf("expected terminal attempts at the ceiling, got %d", repo.terminalAttempts)
	}
	if len(sink.sent) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestServiceProcessBatchParksAtMaxAttempts(t *testing.T) {
	event := newEvent(t, enums.EventOrderPaid, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	sink := &fakeSink{errs: []error{errors.New("transient")}}
	service := newTestService(t, repo, sink, &fakeRegistry{resolved: resolvedOrderPaid()}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row parked after final attempt, got %d", len(repo.terminal))
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no plain failure mark, got %d", len(repo.failed))
	}
}

func TestServiceReportsIdleBatch(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakeSink{}, &fakeRegistry{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("expected empty batch to report idle")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(500*time.Millisecond, 500*time.Millisecond, maxBackoff); got != time.Second {
		t.Fatalf("expected doubling, got %v", got)
	}
	if got := nextBackoff(8*time.Second, 500*time.Millisecond, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap %v, got %v", maxBackoff, got)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Config: &config.Config{}, Logger: logger.Nop(), DB: &fakeDB{}}); err == nil {
		t.Fatal("expected missing sink to be rejected")
	}
}

func newTestService(t *testing.T, repo outboxRepository, sink outbox.Sink, reg registryResolver, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         &fakeDB{},
		Sink:       sink,
		SinkName:   "fake",
		Repository: repo,
		Registry:   reg,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func newEvent(tb testing.TB, eventType enums.OutboxEventType, attempts int) models.OutboxEvent {
	tb.Helper()
	id := uuid.New()
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, id.String()),
		CreatedAt:     time.Now(),
		AttemptCount:  attempts,
	}
}

func resolvedOrderPaid() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			Topic:         "tishop-order-events",
		},
		Payload: &payloads.OrderPaidEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events           []models.OutboxEvent
	published        []uuid.UUID
	failed           []uuid.UUID
	terminal         []uuid.UUID
	terminalAttempts int
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.terminal = append(f.terminal, id)
	f.terminalAttempts = terminalAttempts
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic string
	msg   outbox.Message
}

type fakeSink struct {
	errs []error
	sent []sentMessage
}

func (f *fakeSink) Publish(_ context.Context, topic string, msg outbox.Message) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.sent = append(f.sent, sentMessage{topic: topic, msg: msg})
	}
	return err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}
