package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
)

func newRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{OrdersTopic: "tm-order-events"})
	require.NoError(t, err)
	return reg
}

func envelopeRow(t *testing.T, eventType enums.OutboxEventType, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	require.Error(t, err)
}

func TestResolveOrderCreated(t *testing.T) {
	reg := newRegistry(t)
	orderID := uuid.New()
	row := envelopeRow(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{
		OrderID:       orderID,
		OrderNumber:   1042,
		BuyerID:       uuid.New(),
		Source:        enums.OrderSourceCart,
		PaymentMethod: enums.PaymentMethodOnline,
		TotalCents:    129900,
	})

	resolved, err := reg.Resolve(row)
	require.NoError(t, err)
	require.Equal(t, "tm-order-events", resolved.Descriptor.Topic)

	payload, ok := resolved.Payload.(*payloads.OrderCreatedEvent)
	require.True(t, ok)
	require.Equal(t, orderID, payload.OrderID)
	require.Equal(t, int64(1042), payload.OrderNumber)
}

func TestResolveRejectsUnknownEventType(t *testing.T) {
	reg := newRegistry(t)
	row := envelopeRow(t, enums.OutboxEventType("order.exploded"), map[string]any{})

	_, err := reg.Resolve(row)
	require.Error(t, err)
	var nonRetryable NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))
}

func TestResolveRejectsAggregateMismatch(t *testing.T) {
	reg := newRegistry(t)
	row := envelopeRow(t, enums.EventOrderCancelled, payloads.OrderCancelledEvent{})
	row.AggregateType = enums.OutboxAggregateType("cart")

	_, err := reg.Resolve(row)
	var nonRetryable NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))
}

func TestResolveRejectsEmptyPayload(t *testing.T) {
	reg := newRegistry(t)
	row := envelopeRow(t, enums.EventPaymentSettled, nil)

	_, err := reg.Resolve(row)
	var nonRetryable NonRetryableError
	require.True(t, errors.As(err, &nonRetryable))
}
