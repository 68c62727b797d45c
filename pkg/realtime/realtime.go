// Package realtime pushes best-effort events to connected clients over
// Redis pub/sub. Delivery failures are logged and swallowed; the
// durable notification row in the database is the source of truth.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/redis"
)

// Publisher emits a realtime event on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// BuyerTopic is the per-buyer channel name.
func BuyerTopic(userID uuid.UUID) string {
	return "buyer-" + userID.String()
}

// SellerTopic is the per-seller channel name.
func SellerTopic(userID uuid.UUID) string {
	return "seller-" + userID.String()
}

// OrderTopic is the per-order tracking channel name.
func OrderTopic(orderID uuid.UUID) string {
	return "order-" + orderID.String()
}

// ProductTopic is the per-product stock broadcast channel name.
func ProductTopic(productID uuid.UUID) string {
	return "product-" + productID.String()
}

// RoleTopic is the generic per-user channel name for a role.
func RoleTopic(role string, userID uuid.UUID) string {
	return role + "-" + userID.String()
}

// AdminDashboardTopic is the shared channel admin dashboards subscribe to.
const AdminDashboardTopic = "admin-dashboard"

// Message is the wire frame written to a channel.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type redisPublisher struct {
	client *redis.Client
	logg   *logger.Logger
}

// NewRedisPublisher returns a Publisher backed by Redis pub/sub.
func NewRedisPublisher(client *redis.Client, logg *logger.Logger) (Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("realtime: redis client is required")
	}
	return &redisPublisher{client: client, logg: logg}, nil
}

func (p *redisPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal payload: %w", err)
	}
	frame, err := json.Marshal(Message{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("realtime: marshal frame: %w", err)
	}
	if err := p.client.Publish(ctx, topic, string(frame)); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", topic, err)
	}
	return nil
}

// NopPublisher discards every event. Used when realtime is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
