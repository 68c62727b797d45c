package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the single per-user cart. Created lazily on first add and cleared
// atomically when a cart-originated order is placed.
type Cart struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// CartItem caches a selection against the live inventory. PriceCents is always
// re-stamped to the ledger's canonical pre-discount price on reconciliation;
// discounts are applied at display time, never persisted here.
type CartItem struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID       uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_line"`
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_cart_line"`
	Color        string    `gorm:"column:color;not null;uniqueIndex:ux_cart_line"`
	Size         string    `gorm:"column:size;not null;uniqueIndex:ux_cart_line"`
	Qty          int       `gorm:"column:qty;not null"`
	PriceCents   int       `gorm:"column:price_cents;not null"`
	ProductName  string    `gorm:"column:product_name;not null"`
	ImageURL     *string   `gorm:"column:image_url"`
	IsOutOfStock bool      `gorm:"column:is_out_of_stock;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
