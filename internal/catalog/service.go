package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
)

// Service exposes seller catalog management and buyer browse reads.
type Service interface {
	CreateProduct(ctx context.Context, sellerID uuid.UUID, input CreateProductInput) (*ProductDTO, error)
	UpdateProduct(ctx context.Context, sellerID, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error)
	SetProductActive(ctx context.Context, sellerID, productID uuid.UUID, active bool) error
	GetProduct(ctx context.Context, productID uuid.UUID) (*ProductDTO, error)
	ListProducts(ctx context.Context, input ListProductsInput) (*ProductListResult, error)
}

// CreateProductInput holds the validated payload to create a listing.
type CreateProductInput struct {
	Title       string
	Description *string
	Category    string
	IsActive    bool
	Variants    []VariantInput
}

// VariantInput is one color line of the matrix.
type VariantInput struct {
	Color  string
	Images []string
	Sizes  []SizeInput
}

// SizeInput is one (size, price, stock) cell.
type SizeInput struct {
	Size            string
	PriceCents      int
	DiscountPercent int
	StockQty        int
}

// UpdateProductInput holds optional mutation values. A non-nil Variants
// replaces the whole color/size matrix, stock counters included.
type UpdateProductInput struct {
	Title       *string
	Description *string
	Category    *string
	IsActive    *bool
	Variants    *[]VariantInput
}

type service struct {
	repo     *Repository
	dbClient *db.Client
}

// NewService constructs a catalog service instance.
func NewService(repo *Repository, dbClient *db.Client) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{repo: repo, dbClient: dbClient}, nil
}

// CreateProduct creates the listing with its full variant matrix.
func (s *service) CreateProduct(ctx context.Context, sellerID uuid.UUID, input CreateProductInput) (*ProductDTO, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
	}
	if strings.TrimSpace(input.Category) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category required")
	}
	if err := validateVariants(input.Variants); err != nil {
		return nil, err
	}

	var createdID uuid.UUID
	if err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		product := &models.Product{
			ID:          uuid.New(),
			SellerID:    sellerID,
			Title:       input.Title,
			Description: input.Description,
			Category:    input.Category,
			IsActive:    input.IsActive,
			Variants:    buildVariants(input.Variants),
		}
		created, err := txRepo.CreateProduct(ctx, product)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert product")
		}
		createdID = created.ID
		return nil
	}); err != nil {
		return nil, err
	}

	return s.GetProduct(ctx, createdID)
}

// UpdateProduct mutates a listing the seller owns.
func (s *service) UpdateProduct(ctx context.Context, sellerID, productID uuid.UUID, input UpdateProductInput) (*ProductDTO, error) {
	product, err := s.loadOwned(ctx, sellerID, productID)
	if err != nil {
		return nil, err
	}

	if input.Title != nil {
		if strings.TrimSpace(*input.Title) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title required")
		}
		product.Title = *input.Title
	}
	if input.Description != nil {
		product.Description = input.Description
	}
	if input.Category != nil {
		if strings.TrimSpace(*input.Category) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "category required")
		}
		product.Category = *input.Category
	}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}
	if input.Variants != nil {
		if err := validateVariants(*input.Variants); err != nil {
			return nil, err
		}
	}

	product.Variants = nil
	if err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if _, err := txRepo.SaveProduct(ctx, product); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update product")
		}
		if input.Variants != nil {
			if err := txRepo.ReplaceVariants(ctx, product.ID, buildVariants(*input.Variants)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: replace variants")
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return s.GetProduct(ctx, productID)
}

// SetProductActive flips listing visibility without touching the matrix.
func (s *service) SetProductActive(ctx context.Context, sellerID, productID uuid.UUID, active bool) error {
	if _, err := s.loadOwned(ctx, sellerID, productID); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, productID, active); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: set product active")
	}
	return nil
}

// GetProduct returns the listing with its full matrix.
func (s *service) GetProduct(ctx context.Context, productID uuid.UUID) (*ProductDTO, error) {
	product, err := s.repo.FindDetail(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load product")
	}
	return NewProductDTO(product), nil
}

// ListProducts returns a page of browse rows.
func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*ProductListResult, error) {
	result, err := s.repo.ListSummaries(ctx, input)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list products")
	}
	return result, nil
}

func (s *service) loadOwned(ctx context.Context, sellerID, productID uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load product")
	}
	if product.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "product does not belong to seller")
	}
	return product, nil
}

func validateVariants(variants []VariantInput) error {
	if len(variants) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one variant required")
	}
	colors := make(map[string]struct{}, len(variants))
	for _, variant := range variants {
		color := strings.TrimSpace(variant.Color)
		if color == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant color required")
		}
		if _, dup := colors[color]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate variant color %q", color))
		}
		colors[color] = struct{}{}

		if len(variant.Sizes) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("variant %q needs at least one size", color))
		}
		sizes := make(map[string]struct{}, len(variant.Sizes))
		for _, size := range variant.Sizes {
			label := strings.TrimSpace(size.Size)
			if label == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "size label required")
			}
			if _, dup := sizes[label]; dup {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate size %q for color %q", label, color))
			}
			sizes[label] = struct{}{}
			if size.PriceCents <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "price_cents must be positive")
			}
			if size.DiscountPercent < 0 || size.DiscountPercent > 90 {
				return pkgerrors.New(pkgerrors.CodeValidation, "discount_percent must be between 0 and 90")
			}
			if size.StockQty < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "stock_qty cannot be negative")
			}
		}
	}
	return nil
}

func buildVariants(inputs []VariantInput) []models.ProductVariant {
	variants := make([]models.ProductVariant, 0, len(inputs))
	for _, input := range inputs {
		variant := models.ProductVariant{
			ID:     uuid.New(),
			Color:  strings.TrimSpace(input.Color),
			Images: append([]string{}, input.Images...),
			Sizes:  make([]models.VariantSize, 0, len(input.Sizes)),
		}
		for _, size := range input.Sizes {
			variant.Sizes = append(variant.Sizes, models.VariantSize{
				ID:              uuid.New(),
				Size:            strings.TrimSpace(size.Size),
				PriceCents:      size.PriceCents,
				DiscountPercent: size.DiscountPercent,
				StockQty:        size.StockQty,
			})
		}
		variants = append(variants, variant)
	}
	return variants
}
