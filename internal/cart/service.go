package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
)

type lineResolver interface {
	Resolve(ctx context.Context, productID uuid.UUID, color, size string) (*inventory.ResolvedLine, error)
}

// Service exposes the per-user cart with reconciliation against the ledger.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*CartDTO, error)
	Add(ctx context.Context, userID uuid.UUID, input LineInput) (*CartDTO, error)
	UpdateQty(ctx context.Context, userID uuid.UUID, input LineInput) (*CartDTO, error)
	Remove(ctx context.Context, userID, productID uuid.UUID, color, size string) (*CartDTO, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type service struct {
	repo     *Repository
	dbClient *db.Client
	ledger   lineResolver
	logg     *logger.Logger
}

// NewService builds a cart service backed by the inventory ledger.
func NewService(repo *Repository, dbClient *db.Client, ledger lineResolver, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory resolver required")
	}
	return &service{repo: repo, dbClient: dbClient, ledger: ledger, logg: logg}, nil
}

// Get returns the user's cart reconciled against live inventory. Lines whose
// backing variant is gone are dropped, over-committed quantities are clamped,
// and cached price and naming are re-stamped to the ledger's current values.
// Reconciling an already-clean cart writes nothing.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*CartDTO, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return emptyCart(), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart")
	}
	return s.reconcile(ctx, cart)
}

// Add validates the selection against the ledger and upserts the line. Adding
// a line that already exists accumulates quantity.
func (s *service) Add(ctx context.Context, userID uuid.UUID, input LineInput) (*CartDTO, error) {
	if err := validateLineInput(input); err != nil {
		return nil, err
	}

	line, err := s.resolveSellable(ctx, input)
	if err != nil {
		return nil, err
	}

	cart, err := s.repo.FindOrCreateByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart")
	}

	existing, err := s.repo.FindItem(ctx, cart.ID, input.ProductID, input.Color, input.Size)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart line")
	}

	currentQty := 0
	if existing != nil {
		currentQty = existing.Qty
	}
	if err := ensureStockCovers(line, currentQty+input.Qty); err != nil {
		return nil, err
	}

	if existing != nil {
		existing.Qty += input.Qty
		stampLine(existing, line)
		if err := s.repo.SaveItem(ctx, existing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update cart line")
		}
	} else {
		item := &models.CartItem{
			ID:        uuid.New(),
			CartID:    cart.ID,
			ProductID: input.ProductID,
			Color:     input.Color,
			Size:      input.Size,
			Qty:       input.Qty,
		}
		stampLine(item, line)
		if err := s.repo.CreateItem(ctx, item); err != nil {
			// a concurrent add of the same line lands here; fold into an update
			if db.IsUniqueViolation(err) {
				return s.Add(ctx, userID, input)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: insert cart line")
		}
	}

	return s.Get(ctx, userID)
}

// UpdateQty sets the absolute quantity of an existing line.
func (s *service) UpdateQty(ctx context.Context, userID uuid.UUID, input LineInput) (*CartDTO, error) {
	if err := validateLineInput(input); err != nil {
		return nil, err
	}

	item, err := s.loadLine(ctx, userID, input.ProductID, input.Color, input.Size)
	if err != nil {
		return nil, err
	}

	line, err := s.resolveSellable(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := ensureStockCovers(line, input.Qty); err != nil {
		return nil, err
	}

	item.Qty = input.Qty
	stampLine(item, line)
	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update cart line")
	}
	return s.Get(ctx, userID)
}

// Remove deletes one line by its natural key.
func (s *service) Remove(ctx context.Context, userID, productID uuid.UUID, color, size string) (*CartDTO, error) {
	item, err := s.loadLine(ctx, userID, productID, color, size)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: delete cart line")
	}
	return s.Get(ctx, userID)
}

// Clear empties the cart. A missing cart is already empty.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart")
	}
	if err := s.repo.ClearItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: clear cart")
	}
	return nil
}

// ClearTx empties the cart inside the caller's transaction. Checkout uses it
// so the order insert and the cart clear commit together.
func (s *service) ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for cart clear")
	}
	txRepo := s.repo.WithTx(tx)
	cart, err := txRepo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart")
	}
	if err := txRepo.ClearItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: clear cart")
	}
	return nil
}

func (s *service) reconcile(ctx context.Context, cart *models.Cart) (*CartDTO, error) {
	dto := &CartDTO{ID: cart.ID, Items: make([]LineDTO, 0, len(cart.Items))}

	var dropped []uuid.UUID
	var dirty []*models.CartItem

	for i := range cart.Items {
		item := &cart.Items[i]

		line, err := s.ledger.Resolve(ctx, item.ProductID, item.Color, item.Size)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				dropped = append(dropped, item.ID)
				continue
			}
			return nil, err
		}
		// a withdrawn listing disappears from the cart like a deleted one
		if !line.ProductActive {
			dropped = append(dropped, item.ID)
			continue
		}

		changed := false
		if line.StockQty < item.Qty {
			item.Qty = line.StockQty
			changed = true
		}
		outOfStock := line.StockQty == 0
		if item.IsOutOfStock != outOfStock {
			item.IsOutOfStock = outOfStock
			changed = true
		}
		if item.PriceCents != line.PriceCents {
			item.PriceCents = line.PriceCents
			changed = true
		}
		if item.ProductName != line.ProductName {
			item.ProductName = line.ProductName
			changed = true
		}
		if image := line.FirstImage(); !strPtrEqual(item.ImageURL, image) {
			item.ImageURL = image
			changed = true
		}
		if changed {
			dirty = append(dirty, item)
		}

		effective := effectivePrice(line.PriceCents, line.DiscountPercent)
		dto.Items = append(dto.Items, LineDTO{
			ProductID:           item.ProductID,
			Color:               item.Color,
			Size:                item.Size,
			Qty:                 item.Qty,
			PriceCents:          item.PriceCents,
			DiscountPercent:     line.DiscountPercent,
			EffectivePriceCents: effective,
			ProductName:         item.ProductName,
			ImageURL:            item.ImageURL,
			IsOutOfStock:        item.IsOutOfStock,
			StockQty:            line.StockQty,
		})
		if !item.IsOutOfStock {
			dto.SubtotalCents += effective * item.Qty
		}
	}

	if len(dropped) > 0 || len(dirty) > 0 {
		if err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			if err := txRepo.DeleteItems(ctx, dropped); err != nil {
				return err
			}
			for _, item := range dirty {
				if err := txRepo.SaveItem(ctx, item); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: persist reconciled cart")
		}
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"cart_id": cart.ID.String(),
				"dropped": len(dropped),
				"updated": len(dirty),
			})
			s.logg.Info(logCtx, "cart reconciled")
		}
	}

	return dto, nil
}

func (s *service) resolveSellable(ctx context.Context, input LineInput) (*inventory.ResolvedLine, error) {
	line, err := s.ledger.Resolve(ctx, input.ProductID, input.Color, input.Size)
	if err != nil {
		return nil, err
	}
	if !line.ProductActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
	}
	return line, nil
}

func (s *service) loadLine(ctx context.Context, userID, productID uuid.UUID, color, size string) (*models.CartItem, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart")
	}
	item, err := s.repo.FindItem(ctx, cart.ID, productID, color, size)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load cart line")
	}
	return item, nil
}

func ensureStockCovers(line *inventory.ResolvedLine, wanted int) error {
	if line.StockQty >= wanted {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"product_id":  line.ProductID.String(),
			"color":       line.Color,
			"size":        line.Size,
			"max_allowed": line.StockQty,
			"requested":   wanted,
		})
}

func stampLine(item *models.CartItem, line *inventory.ResolvedLine) {
	item.PriceCents = line.PriceCents
	item.ProductName = line.ProductName
	item.ImageURL = line.FirstImage()
	item.IsOutOfStock = line.StockQty == 0
}

func validateLineInput(input LineInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product_id required")
	}
	if strings.TrimSpace(input.Color) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "color required")
	}
	if strings.TrimSpace(input.Size) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "size required")
	}
	if input.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}
	return nil
}

func effectivePrice(priceCents, discountPercent int) int {
	if discountPercent <= 0 {
		return priceCents
	}
	return priceCents * (100 - discountPercent) / 100
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
