package catalog

import (
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
)

// ProductListFilters describe the filter knobs for the browse endpoint.
type ProductListFilters struct {
	Category      *string `json:"category,omitempty"`
	PriceMinCents *int    `json:"price_min_cents,omitempty"`
	PriceMaxCents *int    `json:"price_max_cents,omitempty"`
	InStockOnly   bool    `json:"in_stock_only,omitempty"`
	Query         string  `json:"q,omitempty"`
}

// ListProductsInput captures pagination and filtering for a product listing.
// SellerID switches the query into the seller's own catalog view, which also
// returns inactive products.
type ListProductsInput struct {
	SellerID   *uuid.UUID
	Filters    ProductListFilters
	Pagination pagination.Params
}
