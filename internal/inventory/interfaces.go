package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lib/pq"
)

// ResolvedLine is the ledger view of one (product, color, size) key.
type ResolvedLine struct {
	SizeID          uuid.UUID      `gorm:"column:size_id"`
	VariantID       uuid.UUID      `gorm:"column:variant_id"`
	ProductID       uuid.UUID      `gorm:"column:product_id"`
	SellerID        uuid.UUID      `gorm:"column:seller_id"`
	ProductName     string         `gorm:"column:product_name"`
	ProductActive   bool           `gorm:"column:product_active"`
	Color           string         `gorm:"column:color"`
	Size            string         `gorm:"column:size"`
	Images          pq.StringArray `gorm:"column:images;type:text[]"`
	PriceCents      int            `gorm:"column:price_cents"`
	DiscountPercent int            `gorm:"column:discount_percent"`
	StockQty        int            `gorm:"column:stock_qty"`
}

// FirstImage returns the lead image for the color line, if any.
func (l *ResolvedLine) FirstImage() *string {
	if l == nil || len(l.Images) == 0 {
		return nil
	}
	img := l.Images[0]
	return &img
}

// Repository exposes ledger reads against the variant size matrix.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ResolveLine(ctx context.Context, productID uuid.UUID, color, size string) (*ResolvedLine, error)
	ResolveLines(ctx context.Context, keys []LineKey) (map[LineKey]*ResolvedLine, error)
	SetStock(ctx context.Context, sizeID uuid.UUID, stockQty int) error
}

// LineKey identifies a single stock counter.
type LineKey struct {
	ProductID uuid.UUID
	Color     string
	Size      string
}
