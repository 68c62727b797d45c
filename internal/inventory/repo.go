package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

const resolveSelect = `vs.id AS size_id, vs.variant_id, vs.size, vs.price_cents, vs.discount_percent, vs.stock_qty,
pv.color, pv.images,
p.id AS product_id, p.seller_id, p.title AS product_name, p.is_active AS product_active`

func (r *repository) ResolveLine(ctx context.Context, productID uuid.UUID, color, size string) (*ResolvedLine, error) {
	var line ResolvedLine
	err := r.db.WithContext(ctx).
		Table("variant_sizes AS vs").
		Select(resolveSelect).
		Joins("JOIN product_variants pv ON pv.id = vs.variant_id").
		Joins("JOIN products p ON p.id = pv.product_id").
		Where("p.id = ? AND pv.color = ? AND vs.size = ?", productID, color, size).
		Take(&line).Error
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *repository) SetStock(ctx context.Context, sizeID uuid.UUID, stockQty int) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE variant_sizes
		SET stock_qty = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, stockQty, sizeID).Error
}

func (r *repository) ResolveLines(ctx context.Context, keys []LineKey) (map[LineKey]*ResolvedLine, error) {
	resolved := make(map[LineKey]*ResolvedLine, len(keys))
	for _, key := range keys {
		line, err := r.ResolveLine(ctx, key.ProductID, key.Color, key.Size)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return nil, err
		}
		resolved[key] = line
	}
	return resolved, nil
}
