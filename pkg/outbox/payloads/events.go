package payloads

import (
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order placed through checkout.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   int64               `json:"order_number"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	SellerIDs     []uuid.UUID         `json:"seller_ids"`
	Source        enums.OrderSource   `json:"source"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalCents    int                 `json:"total_cents"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderNumber    int64             `json:"order_number"`
	BuyerID        uuid.UUID         `json:"buyer_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	NewStatus      enums.OrderStatus `json:"new_status"`
}

// OrderCancelledEvent is emitted when a pre-shipment order is cancelled.
type OrderCancelledEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	OrderNumber    int64     `json:"order_number"`
	BuyerID        uuid.UUID `json:"buyer_id"`
	RestockedUnits int       `json:"restocked_units"`
}

// PaymentSettledEvent is emitted once a gateway payment verifies.
type PaymentSettledEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	OrderNumber       int64     `json:"order_number"`
	RazorpayOrderID   string    `json:"razorpay_order_id"`
	RazorpayPaymentID string    `json:"razorpay_payment_id"`
	AmountCents       int       `json:"amount_cents"`
}
