package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/registry"
)

func TestDrainOnceContinuesAfterFailure(t *testing.T) {
	store := &recordingStore{
		events: []models.OutboxEvent{
			stubEvent(t, enums.EventOrderCreated),
			stubEvent(t, enums.EventOrderCreated),
		},
	}
	pub := &scriptedPublisher{
		results: []pubResult{
			stubResult{err: errors.New("transient")},
			stubResult{},
		},
	}
	resolver := &stubResolver{resolved: resolvedOrderEvent(&payloads.OrderCreatedEvent{})}
	dlq := &recordingDLQ{}
	publisher := newTestPublisher(t, store, pub, resolver, dlq, nil)

	drained, err := publisher.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !drained {
		t.Fatalf("expected batch to report rows seen")
	}
	if len(store.failed) != 1 || store.failed[0] != store.events[0].ID {
		t.Fatalf("expected first event marked failed, got %v", store.failed)
	}
	if len(store.published) != 1 || store.published[0] != store.events[1].ID {
		t.Fatalf("expected second event marked published, got %v", store.published)
	}
}

func TestDrainOnceDeadLettersNonRetryable(t *testing.T) {
	event := stubEvent(t, enums.EventOrderCancelled)
	store := &recordingStore{events: []models.OutboxEvent{event}}
	resolver := &stubResolver{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlq := &recordingDLQ{}
	publisher := newTestPublisher(t, store, &scriptedPublisher{}, resolver, dlq, nil)

	drained, err := publisher.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !drained {
		t.Fatalf("expected batch to report rows seen")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.DLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(store.terminal) != 1 {
		t.Fatalf("expected terminal mark, got %d", len(store.terminal))
	}
}

func TestDrainOnceDeadLettersAtMaxAttempts(t *testing.T) {
	event := stubEvent(t, enums.EventPaymentSettled)
	event.AttemptCount = 1
	store := &recordingStore{events: []models.OutboxEvent{event}}
	pub := &scriptedPublisher{
		results: []pubResult{stubResult{err: errors.New("transient")}},
	}
	resolver := &stubResolver{resolved: resolvedOrderEvent(&payloads.PaymentSettledEvent{})}
	dlq := &recordingDLQ{}
	publisher := newTestPublisher(t, store, pub, resolver, dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	drained, err := publisher.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if !drained {
		t.Fatalf("expected batch to report rows seen")
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.DLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
}

func TestDrainOnceReportsIdleWhenEmpty(t *testing.T) {
	publisher := newTestPublisher(t, &recordingStore{}, &scriptedPublisher{}, &stubResolver{}, &recordingDLQ{}, nil)

	drained, err := publisher.drainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if drained {
		t.Fatalf("expected idle batch")
	}
}

func newTestPublisher(t *testing.T, store eventStore, pub topicPublisher, resolver eventResolver, dlq dlqStore, override *config.OutboxConfig) *Publisher {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if override != nil {
		outboxCfg = *override
	}
	publisher, err := NewPublisher(PublisherParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               passthroughDB{},
		PubSub:           nilBus{},
		Repository:       store,
		Registry:         resolver,
		PublisherFactory: func(string) topicPublisher { return pub },
		DLQRepository:    dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct publisher: %v", err)
	}
	return publisher
}

func stubEvent(tb testing.TB, eventType enums.OutboxEventType) models.OutboxEvent {
	tb.Helper()
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	}
}

func resolvedOrderEvent(payload any) *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "order-events",
			AggregateType: enums.AggregateOrder,
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: payload,
	}
}

type recordingStore struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (s *recordingStore) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return s.events, nil
}

func (s *recordingStore) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	s.published = append(s.published, id)
	return nil
}

func (s *recordingStore) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	s.failed = append(s.failed, id)
	return nil
}

func (s *recordingStore) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	s.terminal = append(s.terminal, id)
	return nil
}

type passthroughDB struct{}

func (passthroughDB) Ping(context.Context) error { return nil }

func (passthroughDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type nilBus struct{}

func (nilBus) Ping(context.Context) error { return nil }

func (nilBus) Publisher(string) *gcppubsub.Publisher { return nil }

type scriptedPublisher struct {
	results []pubResult
}

func (p *scriptedPublisher) Publish(context.Context, *gcppubsub.Message) pubResult {
	if len(p.results) == 0 {
		return nil
	}
	result := p.results[0]
	p.results = p.results[1:]
	return result
}

type stubResult struct {
	err error
}

func (r stubResult) Get(context.Context) (string, error) { return "", r.err }

type stubResolver struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (r *stubResolver) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if r.resolved == nil {
		return nil, r.err
	}
	resolved := *r.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, r.err
}

type recordingDLQ struct {
	entries []models.OutboxDLQ
}

func (d *recordingDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	d.entries = append(d.entries, entry)
	return nil
}
