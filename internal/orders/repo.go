package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
)

// Repository persists orders and their immutable line snapshots.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an order repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// NextOrderNumber reserves the next human-facing order number. Runs inside
// the creation transaction; the unique index on order_number rejects the
// loser if two checkouts race on the same number.
func (r *Repository) NextOrderNumber(ctx context.Context) (int64, error) {
	var next int64
	err := r.db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(order_number), 1000) + 1 FROM orders").
		Scan(&next).
		Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Create inserts the order together with its line items.
func (r *Repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID loads one order with its lines.
func (r *Repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", orderID).
		First(&order).
		Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByRazorpayOrderID loads the order a gateway callback refers to.
func (r *Repository) FindByRazorpayOrderID(ctx context.Context, razorpayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("razorpay_order_id = ?", razorpayOrderID).
		First(&order).
		Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateFields applies a partial column update to one order row.
func (r *Repository) UpdateFields(ctx context.Context, orderID uuid.UUID, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(fields).
		Error
}

// ListStalePending returns unpaid online orders still pending after the
// cutoff, items preloaded so callers can restock them. COD orders are
// excluded; they stay pending until a seller acts on them. Oldest first,
// capped at limit.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var stale []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND payment_status = ? AND payment_method = ? AND created_at < ?",
			enums.OrderStatusPending, enums.PaymentStatusPending, enums.PaymentMethodOnline, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&stale).
		Error
	if err != nil {
		return nil, err
	}
	return stale, nil
}

// CancelStaleTx flips one still-pending, still-unpaid order to cancelled
// inside tx. The status guard in the WHERE clause makes the flip a no-op
// when a payment settled after the caller scanned the order; the boolean
// reports whether the row actually moved.
func (r *Repository) CancelStaleTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, now time.Time) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?",
			orderID, enums.OrderStatusPending, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SellerOwnsLine reports whether the seller has at least one line on the order.
func (r *Repository) SellerOwnsLine(ctx context.Context, orderID, sellerID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("order_id = ? AND seller_id = ?", orderID, sellerID).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type summaryRecord struct {
	ID            uuid.UUID
	OrderNumber   int64
	Status        string
	PaymentStatus string
	PaymentMethod string
	TotalCents    int
	ItemCount     int
	CreatedAt     time.Time
}

const itemCountClause = "(SELECT COUNT(*) FROM order_line_items oli WHERE oli.order_id = o.id)"

// ListByBuyer returns a cursor page of the buyer's orders, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, p pagination.Params) ([]summaryRecord, string, error) {
	qb := r.listQuery(ctx).Where("o.buyer_id = ?", buyerID)
	return r.page(qb, p)
}

// ListBySeller returns orders carrying at least one of the seller's lines.
func (r *Repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, p pagination.Params) ([]summaryRecord, string, error) {
	qb := r.listQuery(ctx).
		Where("EXISTS (SELECT 1 FROM order_line_items oli WHERE oli.order_id = o.id AND oli.seller_id = ?)", sellerID)
	return r.page(qb, p)
}

// ListAll returns every order; admin dashboards only.
func (r *Repository) ListAll(ctx context.Context, p pagination.Params) ([]summaryRecord, string, error) {
	return r.page(r.listQuery(ctx), p)
}

func (r *Repository) listQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("orders o").
		Select("o.id, o.order_number, o.status, o.payment_status, o.payment_method, o.total_cents, o.created_at, " +
			itemCountClause + " AS item_count")
}

func (r *Repository) page(qb *gorm.DB, p pagination.Params) ([]summaryRecord, string, error) {
	pageSize := pagination.NormalizeLimit(p.Limit)
	limitWithBuffer := pagination.LimitWithBuffer(p.Limit)
	if limitWithBuffer <= pageSize {
		limitWithBuffer = pageSize + 1
	}

	cursor, err := pagination.ParseCursor(p.Cursor)
	if err != nil {
		return nil, "", err
	}
	if cursor != nil {
		qb = qb.Where("(o.created_at < ?) OR (o.created_at = ? AND o.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var records []summaryRecord
	err = qb.Order("o.created_at DESC").Order("o.id DESC").
		Limit(limitWithBuffer).
		Scan(&records).
		Error
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		last := records[len(records)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return records, nextCursor, nil
}
