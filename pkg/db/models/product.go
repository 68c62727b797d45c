package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Product is the seller listing. Stock and price live on the per-color,
// per-size matrix underneath it and are only mutated through the inventory
// ledger.
type Product struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SellerID    uuid.UUID        `gorm:"column:seller_id;type:uuid;not null;index"`
	Title       string           `gorm:"column:title;not null"`
	Description *string          `gorm:"column:description"`
	Category    string           `gorm:"column:category;not null"`
	IsActive    bool             `gorm:"column:is_active;not null;default:true"`
	Variants    []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ProductVariant is a color line of a product with its own image set.
type ProductVariant struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID      `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_variant_product_color"`
	Color     string         `gorm:"column:color;not null;uniqueIndex:ux_variant_product_color"`
	Images    pq.StringArray `gorm:"column:images;type:text[]"`
	Sizes     []VariantSize  `gorm:"foreignKey:VariantID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// VariantSize holds the stock counter and canonical price for one
// (product, color, size) key. StockQty must never go negative; the inventory
// ledger enforces this with conditional updates.
type VariantSize struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID       uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_size_variant_size"`
	Size            string    `gorm:"column:size;not null;uniqueIndex:ux_size_variant_size"`
	PriceCents      int       `gorm:"column:price_cents;not null"`
	DiscountPercent int       `gorm:"column:discount_percent;not null;default:0"`
	StockQty        int       `gorm:"column:stock_qty;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
