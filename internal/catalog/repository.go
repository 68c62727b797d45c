package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
)

// Repository wires together product catalog persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByID loads the product without associations.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindDetail loads the product with its full color/size matrix.
func (r *Repository) FindDetail(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB {
			return db.Order("color ASC")
		}).
		Preload("Variants.Sizes", func(db *gorm.DB) *gorm.DB {
			return db.Order("size ASC")
		}).
		First(&product, "id = ?", id).
		Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreateProduct inserts the product row with its variant and size associations.
func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// SaveProduct updates the top-level product row only.
func (r *Repository) SaveProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Save(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// ReplaceVariants swaps the full color/size matrix for the product.
func (r *Repository) ReplaceVariants(ctx context.Context, productID uuid.UUID, variants []models.ProductVariant) error {
	tx := r.db.WithContext(ctx)
	var variantIDs []uuid.UUID
	if err := tx.Model(&models.ProductVariant{}).
		Where("product_id = ?", productID).
		Pluck("id", &variantIDs).Error; err != nil {
		return err
	}
	if len(variantIDs) > 0 {
		if err := tx.Where("variant_id IN ?", variantIDs).Delete(&models.VariantSize{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", productID).Delete(&models.ProductVariant{}).Error; err != nil {
			return err
		}
	}
	if len(variants) == 0 {
		return nil
	}
	for i := range variants {
		variants[i].ProductID = productID
	}
	return tx.Create(&variants).Error
}

// SetActive flips the listing visibility flag.
func (r *Repository) SetActive(ctx context.Context, productID uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		Update("is_active", active).
		Error
}

const (
	priceFromClause = "(SELECT MIN(vs.price_cents) FROM variant_sizes vs JOIN product_variants pv ON pv.id = vs.variant_id WHERE pv.product_id = p.id)"
	inStockClause   = "EXISTS (SELECT 1 FROM variant_sizes vs JOIN product_variants pv ON pv.id = vs.variant_id WHERE pv.product_id = p.id AND vs.stock_qty > 0)"
	coverImageQuery = "(SELECT pv.images FROM product_variants pv WHERE pv.product_id = p.id ORDER BY pv.created_at ASC, pv.id ASC LIMIT 1)"
)

// ListSummaries returns a cursor-paginated page of browse rows.
func (r *Repository) ListSummaries(ctx context.Context, input ListProductsInput) (*ProductListResult, error) {
	pageSize := pagination.NormalizeLimit(input.Pagination.Limit)
	limitWithBuffer := pagination.LimitWithBuffer(input.Pagination.Limit)
	if limitWithBuffer <= pageSize {
		limitWithBuffer = pageSize + 1
	}

	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, err
	}

	qb := r.db.WithContext(ctx).
		Table("products p").
		Select(strings.Join([]string{
			"p.id",
			"p.seller_id",
			"p.title",
			"p.category",
			"p.created_at",
			priceFromClause + " AS price_from_cents",
			inStockClause + " AS in_stock",
			coverImageQuery + " AS images",
		}, ", "))

	filter := input.Filters
	if filter.Category != nil {
		qb = qb.Where("p.category = ?", *filter.Category)
	}
	if filter.PriceMinCents != nil {
		qb = qb.Where(priceFromClause+" >= ?", *filter.PriceMinCents)
	}
	if filter.PriceMaxCents != nil {
		qb = qb.Where(priceFromClause+" <= ?", *filter.PriceMaxCents)
	}
	if filter.InStockOnly {
		qb = qb.Where(inStockClause)
	}
	if search := strings.TrimSpace(filter.Query); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		qb = qb.Where("LOWER(p.title) LIKE ?", pattern)
	}

	if input.SellerID != nil {
		qb = qb.Where("p.seller_id = ?", *input.SellerID)
	} else {
		qb = qb.Where("p.is_active = ?", true)
	}

	if cursor != nil {
		qb = qb.Where("(p.created_at < ?) OR (p.created_at = ? AND p.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	qb = qb.Order("p.created_at DESC").Order("p.id DESC").Limit(limitWithBuffer)

	var records []productSummaryRecord
	if err := qb.Scan(&records).Error; err != nil {
		return nil, err
	}

	resultRows := records
	nextCursor := ""
	if len(records) > pageSize {
		resultRows = records[:pageSize]
		last := resultRows[len(resultRows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	summaries := make([]ProductSummary, 0, len(resultRows))
	for _, record := range resultRows {
		summaries = append(summaries, record.toSummary())
	}

	return &ProductListResult{
		Products:   summaries,
		NextCursor: nextCursor,
	}, nil
}

type productSummaryRecord struct {
	ID             uuid.UUID
	SellerID       uuid.UUID
	Title          string
	Category       string
	PriceFromCents int
	InStock        bool
	Images         pq.StringArray `gorm:"column:images;type:text[]"`
	CreatedAt      time.Time
}

func (r productSummaryRecord) toSummary() ProductSummary {
	summary := ProductSummary{
		ID:             r.ID,
		SellerID:       r.SellerID,
		Title:          r.Title,
		Category:       r.Category,
		PriceFromCents: r.PriceFromCents,
		InStock:        r.InStock,
		CreatedAt:      r.CreatedAt,
	}
	if len(r.Images) > 0 {
		first := r.Images[0]
		summary.ImageURL = &first
	}
	return summary
}
