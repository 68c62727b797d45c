package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
)

// ReservationRequest asks the ledger to deduct stock for one line.
type ReservationRequest struct {
	ProductID uuid.UUID
	Color     string
	Size      string
	Qty       int
}

// ReservationResult reports the per-line outcome of a reserve pass.
type ReservationResult struct {
	Request  ReservationRequest
	Line     *ResolvedLine
	Reserved bool
	Reason   string
}

// RestockLine returns previously deducted units to the ledger.
type RestockLine struct {
	ProductID uuid.UUID
	Color     string
	Size      string
	Qty       int
}

// Reserver deducts stock inside the caller's transaction.
type Reserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error)
}

// Restocker adds stock back inside the caller's transaction. Lines whose
// variant has since been deleted come back in skipped.
type Restocker interface {
	Restock(ctx context.Context, tx *gorm.DB, lines []RestockLine) (skipped []RestockLine, err error)
}

// Service owns all stock mutations. Every deduction is a conditional update
// guarded by the current counter so concurrent buyers can never drive
// stock_qty negative.
type Service struct {
	repo Repository
}

// NewService builds the inventory ledger service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &Service{repo: repo}, nil
}

// Resolve returns the ledger view of one line key.
func (s *Service) Resolve(ctx context.Context, productID uuid.UUID, color, size string) (*ResolvedLine, error) {
	line, err := s.repo.ResolveLine(ctx, productID, color, size)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve inventory line")
	}
	return line, nil
}

// Availability reports the remaining stock for one line key.
func (s *Service) Availability(ctx context.Context, productID uuid.UUID, color, size string) (int, error) {
	line, err := s.Resolve(ctx, productID, color, size)
	if err != nil {
		return 0, err
	}
	return line.StockQty, nil
}

// Reserve attempts to deduct stock for every request inside tx. A line only
// succeeds when the counter still covers the quantity at update time; callers
// inspect the results and roll the transaction back if any line failed.
func (s *Service) Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reserve")
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive")
		}
	}

	repo := s.repo.WithTx(tx)
	results := make([]ReservationResult, 0, len(requests))
	for _, req := range requests {
		result := ReservationResult{Request: req}

		line, err := repo.ResolveLine(ctx, req.ProductID, req.Color, req.Size)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				result.Reason = "variant not found"
				results = append(results, result)
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve inventory line")
		}
		result.Line = line

		if !line.ProductActive {
			result.Reason = "product inactive"
			results = append(results, result)
			continue
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE variant_sizes
			SET stock_qty = stock_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stock_qty >= ?
		`, req.Qty, line.SizeID, req.Qty)
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
		}
		if res.RowsAffected == 0 {
			result.Reason = fmt.Sprintf("insufficient stock: have %d, want %d", line.StockQty, req.Qty)
			results = append(results, result)
			continue
		}

		result.Reserved = true
		results = append(results, result)
	}
	return results, nil
}

// Restock returns units to the ledger, e.g. after a cancellation. A line
// whose variant no longer exists cannot take the units back; it is reported
// in skipped rather than failing the cancellation, and the order snapshot
// remains the audit trail.
func (s *Service) Restock(ctx context.Context, tx *gorm.DB, lines []RestockLine) ([]RestockLine, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory restock")
	}

	repo := s.repo.WithTx(tx)
	var skipped []RestockLine
	for _, line := range lines {
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "restock qty must be positive")
		}
		resolved, err := repo.ResolveLine(ctx, line.ProductID, line.Color, line.Size)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				skipped = append(skipped, line)
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve inventory line")
		}

		res := tx.WithContext(ctx).Exec(`
			UPDATE variant_sizes
			SET stock_qty = stock_qty + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, line.Qty, resolved.SizeID)
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restock inventory")
		}
	}
	return skipped, nil
}

// AdjustStock sets the absolute counter for a line the seller owns.
func (s *Service) AdjustStock(ctx context.Context, sellerID, productID uuid.UUID, color, size string, stockQty int) error {
	if stockQty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock qty cannot be negative")
	}
	line, err := s.Resolve(ctx, productID, color, size)
	if err != nil {
		return err
	}
	if line.SellerID != sellerID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "product does not belong to seller")
	}

	if err := s.repo.SetStock(ctx, line.SizeID, stockQty); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "adjust stock")
	}
	return nil
}
