package cart

import (
	"github.com/google/uuid"
)

// LineDTO is one reconciled cart line. PriceCents is the ledger's canonical
// pre-discount price; EffectivePriceCents applies the current discount for
// display only.
type LineDTO struct {
	ProductID           uuid.UUID `json:"product_id"`
	Color               string    `json:"color"`
	Size                string    `json:"size"`
	Qty                 int       `json:"qty"`
	PriceCents          int       `json:"price_cents"`
	DiscountPercent     int       `json:"discount_percent"`
	EffectivePriceCents int       `json:"effective_price_cents"`
	ProductName         string    `json:"product_name"`
	ImageURL            *string   `json:"image_url,omitempty"`
	IsOutOfStock        bool      `json:"is_out_of_stock"`
	StockQty            int       `json:"stock_qty"`
}

// CartDTO is the reconciled cart with display totals.
type CartDTO struct {
	ID            uuid.UUID `json:"id"`
	Items         []LineDTO `json:"items"`
	SubtotalCents int       `json:"subtotal_cents"`
}

// LineInput identifies one (product, color, size) selection.
type LineInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Color     string    `json:"color"`
	Size      string    `json:"size"`
	Qty       int       `json:"qty"`
}

func emptyCart() *CartDTO {
	return &CartDTO{Items: []LineDTO{}}
}
