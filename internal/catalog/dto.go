package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
)

// ProductDTO is the full product payload with its color/size matrix.
type ProductDTO struct {
	ID          uuid.UUID    `json:"id"`
	SellerID    uuid.UUID    `json:"seller_id"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	Category    string       `json:"category"`
	IsActive    bool         `json:"is_active"`
	Variants    []VariantDTO `json:"variants"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// VariantDTO is one color line with its image set and size rows.
type VariantDTO struct {
	ID     uuid.UUID `json:"id"`
	Color  string    `json:"color"`
	Images []string  `json:"images"`
	Sizes  []SizeDTO `json:"sizes"`
}

// SizeDTO exposes one (size, price, stock) cell of the matrix.
type SizeDTO struct {
	ID              uuid.UUID `json:"id"`
	Size            string    `json:"size"`
	PriceCents      int       `json:"price_cents"`
	DiscountPercent int       `json:"discount_percent"`
	StockQty        int       `json:"stock_qty"`
	InStock         bool      `json:"in_stock"`
}

// ProductSummary is the browse-grid row.
type ProductSummary struct {
	ID             uuid.UUID `json:"id"`
	SellerID       uuid.UUID `json:"seller_id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	PriceFromCents int       `json:"price_from_cents"`
	InStock        bool      `json:"in_stock"`
	ImageURL       *string   `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProductListResult bundles a page of summaries with the follow-up cursor.
type ProductListResult struct {
	Products   []ProductSummary `json:"products"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// NewProductDTO builds a DTO from the persisted model with variants preloaded.
func NewProductDTO(product *models.Product) *ProductDTO {
	dto := &ProductDTO{
		ID:          product.ID,
		SellerID:    product.SellerID,
		Title:       product.Title,
		Description: product.Description,
		Category:    product.Category,
		IsActive:    product.IsActive,
		Variants:    make([]VariantDTO, 0, len(product.Variants)),
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
	for _, variant := range product.Variants {
		v := VariantDTO{
			ID:     variant.ID,
			Color:  variant.Color,
			Images: append([]string{}, variant.Images...),
			Sizes:  make([]SizeDTO, 0, len(variant.Sizes)),
		}
		for _, size := range variant.Sizes {
			v.Sizes = append(v.Sizes, SizeDTO{
				ID:              size.ID,
				Size:            size.Size,
				PriceCents:      size.PriceCents,
				DiscountPercent: size.DiscountPercent,
				StockQty:        size.StockQty,
				InStock:         size.StockQty > 0,
			})
		}
		dto.Variants = append(dto.Variants, v)
	}
	return dto
}
