package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/api/middleware"
	"github.com/arjunmehta-dev/threadmart-backend/api/responses"
	"github.com/arjunmehta-dev/threadmart-backend/api/validators"
	catalogsvc "github.com/arjunmehta-dev/threadmart-backend/internal/catalog"
	inventorysvc "github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
)

type sizePayload struct {
	Size            string `json:"size" validate:"required"`
	PriceCents      int    `json:"price_cents" validate:"required,min=1"`
	DiscountPercent int    `json:"discount_percent" validate:"min=0,max=90"`
	StockQty        int    `json:"stock_qty" validate:"min=0"`
}

type variantPayload struct {
	Color  string        `json:"color" validate:"required"`
	Images []string      `json:"images"`
	Sizes  []sizePayload `json:"sizes" validate:"required,min=1,dive"`
}

type createProductRequest struct {
	Title       string           `json:"title" validate:"required,min=3,max=200"`
	Description *string          `json:"description,omitempty"`
	Category    string           `json:"category" validate:"required"`
	IsActive    *bool            `json:"is_active,omitempty"`
	Variants    []variantPayload `json:"variants" validate:"required,min=1,dive"`
}

type updateProductRequest struct {
	Title       *string           `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Description *string           `json:"description,omitempty"`
	Category    *string           `json:"category,omitempty"`
	IsActive    *bool             `json:"is_active,omitempty"`
	Variants    *[]variantPayload `json:"variants,omitempty" validate:"omitempty,min=1,dive"`
}

func variantsToInput(payloads []variantPayload) []catalogsvc.VariantInput {
	variants := make([]catalogsvc.VariantInput, 0, len(payloads))
	for _, v := range payloads {
		sizes := make([]catalogsvc.SizeInput, 0, len(v.Sizes))
		for _, s := range v.Sizes {
			sizes = append(sizes, catalogsvc.SizeInput{
				Size:            s.Size,
				PriceCents:      s.PriceCents,
				DiscountPercent: s.DiscountPercent,
				StockQty:        s.StockQty,
			})
		}
		variants = append(variants, catalogsvc.VariantInput{
			Color:  v.Color,
			Images: v.Images,
			Sizes:  sizes,
		})
	}
	return variants
}

// ProductCreate registers a new listing for the authenticated seller.
func ProductCreate(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active := true
		if payload.IsActive != nil {
			active = *payload.IsActive
		}
		dto, err := svc.CreateProduct(r.Context(), sellerID, catalogsvc.CreateProductInput{
			Title:       payload.Title,
			Description: payload.Description,
			Category:    payload.Category,
			IsActive:    active,
			Variants:    variantsToInput(payload.Variants),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// ProductUpdate mutates a listing the seller owns. A variants payload replaces
// the full color/size matrix.
func ProductUpdate(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := catalogsvc.UpdateProductInput{
			Title:       payload.Title,
			Description: payload.Description,
			Category:    payload.Category,
			IsActive:    payload.IsActive,
		}
		if payload.Variants != nil {
			variants := variantsToInput(*payload.Variants)
			input.Variants = &variants
		}
		dto, err := svc.UpdateProduct(r.Context(), sellerID, productID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

type productActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// ProductSetActive flips a listing's visibility.
func ProductSetActive(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload productActiveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetProductActive(r.Context(), sellerID, productID, *payload.IsActive); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"is_active": *payload.IsActive})
	}
}

// ProductGet returns a single listing with its full variant matrix.
func ProductGet(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.GetProduct(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// ProductsList is the public browse endpoint with filters and cursor paging.
func ProductsList(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := parseProductFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ListProducts(r.Context(), catalogsvc.ListProductsInput{
			Filters:    filters,
			Pagination: params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SellerProductsList returns the authenticated seller's own catalog, inactive
// listings included.
func SellerProductsList(svc catalogsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ListProducts(r.Context(), catalogsvc.ListProductsInput{
			SellerID:   &sellerID,
			Pagination: params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type adjustStockRequest struct {
	Color    string `json:"color" validate:"required"`
	Size     string `json:"size" validate:"required"`
	StockQty *int   `json:"stock_qty" validate:"required,min=0"`
}

// ProductAdjustStock sets the absolute stock counter for one matrix cell.
func ProductAdjustStock(svc *inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := parseProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload adjustStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.AdjustStock(r.Context(), sellerID, productID, payload.Color, payload.Size, *payload.StockQty); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{"stock_qty": *payload.StockQty})
	}
}

func parseProductFilters(r *http.Request) (catalogsvc.ProductListFilters, error) {
	var filters catalogsvc.ProductListFilters
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		filters.Category = &category
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("price_min_cents")); raw != "" {
		value, err := validators.ParseQueryInt(r, "price_min_cents", 0, 0, 100_000_000)
		if err != nil {
			return filters, err
		}
		filters.PriceMinCents = &value
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("price_max_cents")); raw != "" {
		value, err := validators.ParseQueryInt(r, "price_max_cents", 0, 0, 100_000_000)
		if err != nil {
			return filters, err
		}
		filters.PriceMaxCents = &value
	}
	filters.InStockOnly = r.URL.Query().Get("in_stock") == "true"
	filters.Query = strings.TrimSpace(r.URL.Query().Get("q"))
	return filters, nil
}

func parseProductID(r *http.Request) (uuid.UUID, error) {
	productID, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id")
	}
	return productID, nil
}
