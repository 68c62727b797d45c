package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/types"
)

// Order is an immutable purchase snapshot. Only status, paymentStatus, the
// razorpay references, and the terminal timestamps may change after creation.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       int64               `gorm:"column:order_number;uniqueIndex"`
	BuyerID           uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	Source            enums.OrderSource   `gorm:"column:source;type:text;not null"`
	Status            enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'cod'"`
	SubtotalCents     int                 `gorm:"column:subtotal_cents;not null"`
	ShippingCents     int                 `gorm:"column:shipping_cents;not null;default:0"`
	TotalCents        int                 `gorm:"column:total_cents;not null"`
	ShippingAddress   types.Address       `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	RazorpayOrderID   *string             `gorm:"column:razorpay_order_id;index"`
	RazorpayPaymentID *string             `gorm:"column:razorpay_payment_id"`
	DeliveredAt       *time.Time          `gorm:"column:delivered_at"`
	CancelledAt       *time.Time          `gorm:"column:cancelled_at"`
	Items             []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLineItem captures the per-line snapshot: name and unit price as agreed
// at purchase time, plus the seller for notification fan-out and the exact
// quantity to restock on cancellation.
type OrderLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	SellerID       uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`
	Name           string    `gorm:"column:name;not null"`
	Color          string    `gorm:"column:color;not null"`
	Size           string    `gorm:"column:size;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	SubtotalCents  int       `gorm:"column:subtotal_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
