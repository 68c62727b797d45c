package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/types"
)

// BuyNowInput identifies the single line of a buy-now checkout.
type BuyNowInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Color     string    `json:"color"`
	Size      string    `json:"size"`
	Qty       int       `json:"qty"`
}

// CheckoutInput is the resolved checkout request. Source selects between the
// buyer's cart and the single BuyNow line. ClientTotalCents, when present,
// must match the server-computed total or checkout is rejected.
type CheckoutInput struct {
	BuyerID          uuid.UUID
	Source           enums.OrderSource
	BuyNow           *BuyNowInput
	PaymentMethod    enums.PaymentMethod
	AddressID        *uuid.UUID
	ClientTotalCents *int
}

// ListInput selects which orders to page through. Sellers see orders that
// carry at least one of their lines; buyers see their own orders.
type ListInput struct {
	UserID     uuid.UUID
	Role       enums.Role
	Pagination pagination.Params
}

// LineDTO is one immutable order line snapshot.
type LineDTO struct {
	ProductID      uuid.UUID `json:"product_id"`
	SellerID       uuid.UUID `json:"seller_id"`
	Name           string    `json:"name"`
	Color          string    `json:"color"`
	Size           string    `json:"size"`
	Qty            int       `json:"qty"`
	UnitPriceCents int       `json:"unit_price_cents"`
	SubtotalCents  int       `json:"subtotal_cents"`
}

// OrderDTO is the full order detail view.
type OrderDTO struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     int64               `json:"order_number"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	Source          enums.OrderSource   `json:"source"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	SubtotalCents   int                 `json:"subtotal_cents"`
	ShippingCents   int                 `json:"shipping_cents"`
	TotalCents      int                 `json:"total_cents"`
	ShippingAddress types.Address       `json:"shipping_address"`
	RazorpayOrderID *string             `json:"razorpay_order_id,omitempty"`
	Items           []LineDTO           `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
}

// SummaryDTO is the list-row view of an order.
type SummaryDTO struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   int64               `json:"order_number"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalCents    int                 `json:"total_cents"`
	ItemCount     int                 `json:"item_count"`
	CreatedAt     time.Time           `json:"created_at"`
}

// ListDTO is one cursor page of order summaries.
type ListDTO struct {
	Orders     []SummaryDTO `json:"orders"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// TrackStep is one milestone on the tracking timeline.
type TrackStep struct {
	Status    enums.OrderStatus `json:"status"`
	Completed bool              `json:"completed"`
	At        *time.Time        `json:"at,omitempty"`
}

// TrackDTO is the buyer-facing tracking view.
type TrackDTO struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber int64             `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	Steps       []TrackStep       `json:"steps"`
}

func lineFromModel(item models.OrderLineItem) LineDTO {
	return LineDTO{
		ProductID:      item.ProductID,
		SellerID:       item.SellerID,
		Name:           item.Name,
		Color:          item.Color,
		Size:           item.Size,
		Qty:            item.Qty,
		UnitPriceCents: item.UnitPriceCents,
		SubtotalCents:  item.SubtotalCents,
	}
}

func orderFromModel(order *models.Order) *OrderDTO {
	items := make([]LineDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineFromModel(item))
	}
	return &OrderDTO{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		BuyerID:         order.BuyerID,
		Source:          order.Source,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		SubtotalCents:   order.SubtotalCents,
		ShippingCents:   order.ShippingCents,
		TotalCents:      order.TotalCents,
		ShippingAddress: order.ShippingAddress,
		RazorpayOrderID: order.RazorpayOrderID,
		Items:           items,
		CreatedAt:       order.CreatedAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
	}
}
