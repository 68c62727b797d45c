package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/idempotency"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
)

const dashboardConsumer = "order-dashboards"

// Consumer watches order domain events and fans dashboard updates out to
// realtime channels. Durable notification rows are written synchronously by
// the order flow; this worker only feeds live dashboards.
type Consumer struct {
	publisher    realtime.Publisher
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a dashboard fan-out consumer.
func NewConsumer(publisher realtime.Publisher, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if publisher == nil {
		return nil, fmt.Errorf("realtime publisher required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		publisher:    publisher,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	handler, ok := c.handlerFor(eventType)
	if !ok {
		c.logg.Info(logCtx, "skipping unhandled event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, dashboardConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := handler(ctx, envelope.Data); err != nil {
		c.logg.Error(logCtx, "dashboard fan-out failed", err)
		_ = c.idempotency.Delete(ctx, dashboardConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handlerFor(eventType enums.OutboxEventType) (func(context.Context, json.RawMessage) error, bool) {
	switch eventType {
	case enums.EventOrderCreated:
		return c.handleOrderCreated, true
	case enums.EventOrderStatusChanged:
		return c.handleOrderStatusChanged, true
	case enums.EventOrderCancelled:
		return c.handleOrderCancelled, true
	case enums.EventPaymentSettled:
		return c.handlePaymentSettled, true
	default:
		return nil, false
	}
}

func (c *Consumer) handleOrderCreated(ctx context.Context, data json.RawMessage) error {
	var payload payloads.OrderCreatedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.created payload: %w", err)
	}
	for _, sellerID := range payload.SellerIDs {
		if err := c.publisher.Publish(ctx, realtime.SellerTopic(sellerID), "seller-dashboard-update", payload); err != nil {
			return err
		}
	}
	return c.publisher.Publish(ctx, realtime.AdminDashboardTopic, "admin-dashboard-update", payload)
}

func (c *Consumer) handleOrderStatusChanged(ctx context.Context, data json.RawMessage) error {
	var payload payloads.OrderStatusChangedEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.status_changed payload: %w", err)
	}
	if err := c.publisher.Publish(ctx, realtime.OrderTopic(payload.OrderID), "order-updated", payload); err != nil {
		return err
	}
	return c.publisher.Publish(ctx, realtime.AdminDashboardTopic, "admin-dashboard-update", payload)
}

func (c *Consumer) handleOrderCancelled(ctx context.Context, data json.RawMessage) error {
	var payload payloads.OrderCancelledEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse order.cancelled payload: %w", err)
	}
	if err := c.publisher.Publish(ctx, realtime.OrderTopic(payload.OrderID), "order-updated", payload); err != nil {
		return err
	}
	return c.publisher.Publish(ctx, realtime.AdminDashboardTopic, "admin-dashboard-update", payload)
}

func (c *Consumer) handlePaymentSettled(ctx context.Context, data json.RawMessage) error {
	var payload payloads.PaymentSettledEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse payment.settled payload: %w", err)
	}
	return c.publisher.Publish(ctx, realtime.AdminDashboardTopic, "admin-dashboard-update", payload)
}
