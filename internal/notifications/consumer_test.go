package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/idempotency"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
)

type fakeIdempotencyStore struct {
	keys map[string]struct{}
}

func (f *fakeIdempotencyStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]struct{}{}
	}
	if _, exists := f.keys[key]; exists {
		return false, nil
	}
	f.keys[key] = struct{}{}
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "tm:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func newTestConsumer(t *testing.T, publisher *fakePublisher) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(&fakeIdempotencyStore{}, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &Consumer{
		publisher:   publisher,
		idempotency: manager,
		logg:        logger.New(logger.Options{ServiceName: "consumer-test"}),
	}
}

func envelopeMessage(t *testing.T, eventType enums.OutboxEventType, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version: 1,
		EventID: uuid.NewString(),
		Data:    data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestProcessOrderCreatedFansOutToSellers(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	consumer := newTestConsumer(t, publisher)
	sellerA, sellerB := uuid.New(), uuid.New()

	msg := envelopeMessage(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{
		OrderID:     uuid.New(),
		OrderNumber: 1042,
		BuyerID:     uuid.New(),
		SellerIDs:   []uuid.UUID{sellerA, sellerB},
		TotalCents:  124800,
	})

	result := consumer.process(context.Background(), msg)
	if !result.ack || result.nack {
		t.Fatalf("expected ack, got %+v", result)
	}

	if len(publisher.published) != 3 {
		t.Fatalf("expected 2 seller publishes + 1 admin, got %d", len(publisher.published))
	}
	if publisher.published[0].topic != "seller-"+sellerA.String() ||
		publisher.published[1].topic != "seller-"+sellerB.String() {
		t.Fatalf("unexpected seller topics: %+v", publisher.published)
	}
	if publisher.published[2].topic != "admin-dashboard" ||
		publisher.published[2].event != "admin-dashboard-update" {
		t.Fatalf("unexpected admin publish: %+v", publisher.published[2])
	}
}

func TestProcessIsIdempotentPerEvent(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	consumer := newTestConsumer(t, publisher)

	msg := envelopeMessage(t, enums.EventOrderStatusChanged, payloads.OrderStatusChangedEvent{
		OrderID:        uuid.New(),
		OrderNumber:    7,
		BuyerID:        uuid.New(),
		PreviousStatus: enums.OrderStatusPending,
		NewStatus:      enums.OrderStatusProcessing,
	})

	first := consumer.process(context.Background(), msg)
	second := consumer.process(context.Background(), msg)
	if !first.ack || !second.ack {
		t.Fatalf("both deliveries should ack: %+v %+v", first, second)
	}
	// the duplicate delivery publishes nothing new
	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 publishes from the first delivery only, got %d", len(publisher.published))
	}
}

func TestProcessSkipsUnknownEvent(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	consumer := newTestConsumer(t, publisher)

	msg := &pubsub.Message{
		Data:       []byte(`{}`),
		Attributes: map[string]string{"event_type": "inventory.rebalanced"},
	}
	result := consumer.process(context.Background(), msg)
	if !result.ack {
		t.Fatalf("unknown events must ack: %+v", result)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("unknown events must not publish: %+v", publisher.published)
	}
}

func TestProcessNacksWhenPublishFails(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{fail: true}
	consumer := newTestConsumer(t, publisher)

	msg := envelopeMessage(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{
		OrderID:        uuid.New(),
		OrderNumber:    9,
		BuyerID:        uuid.New(),
		RestockedUnits: 3,
	})
	result := consumer.process(context.Background(), msg)
	if !result.nack {
		t.Fatalf("publish failure must nack for redelivery: %+v", result)
	}

	// the idempotency mark is released so the retry can run
	publisher.fail = false
	retry := consumer.process(context.Background(), msg)
	if !retry.ack {
		t.Fatalf("retry should succeed: %+v", retry)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected order + admin publish on retry, got %d", len(publisher.published))
	}
}
