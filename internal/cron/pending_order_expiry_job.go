package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
)

const (
	pendingOrderExpiryHours = 24
	pendingOrderBatchSize   = 100
)

type PendingOrderExpiryJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  staleOrderRepo
	Inventory   restocker
	Outbox      outboxEmitter
	ExpiryHours int
	BatchSize   int
}

type staleOrderRepo interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CancelStaleTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, now time.Time) (bool, error)
}

type restocker interface {
	Restock(ctx context.Context, tx *gorm.DB, lines []inventory.RestockLine) ([]inventory.RestockLine, error)
}

// NewPendingOrderExpiryJob builds the job that cancels online orders whose
// payment never arrived, returning their reserved stock to the ledger.
func NewPendingOrderExpiryJob(params PendingOrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory restocker required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	expiry := params.ExpiryHours
	if expiry <= 0 {
		expiry = pendingOrderExpiryHours
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = pendingOrderBatchSize
	}
	return &pendingOrderExpiryJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repository,
		ledger: params.Inventory,
		outbox: params.Outbox,
		expiry: expiry,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type pendingOrderExpiryJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   staleOrderRepo
	ledger restocker
	outbox outboxEmitter
	expiry int
	batch  int
	now    func() time.Time
}

func (j *pendingOrderExpiryJob) Name() string { return "pending-order-expiry" }

func (j *pendingOrderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.expiry) * time.Hour)
	stale, err := j.repo.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending orders: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	expired := 0
	skipped := 0
	for i := range stale {
		order := &stale[i]
		cancelled, err := j.expireOne(ctx, order)
		if err != nil {
			// One broken order must not block the rest of the batch.
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
			})
			j.logg.Error(logCtx, "expire pending order", err)
			continue
		}
		if cancelled {
			expired++
		} else {
			skipped++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"expiry_hours": j.expiry,
		"scanned":      len(stale),
		"expired":      expired,
		"skipped":      skipped,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return nil
}

// expireOne cancels a single order in its own transaction so a conflict on
// one row leaves the others untouched. Returns false when the guarded update
// found the order already paid or moved.
func (j *pendingOrderExpiryJob) expireOne(ctx context.Context, order *models.Order) (bool, error) {
	cancelled := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := j.now().UTC()
		moved, err := j.repo.CancelStaleTx(ctx, tx, order.ID, now)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}

		restockedUnits := 0
		lines := make([]inventory.RestockLine, 0, len(order.Items))
		for _, item := range order.Items {
			lines = append(lines, inventory.RestockLine{
				ProductID: item.ProductID,
				Color:     item.Color,
				Size:      item.Size,
				Qty:       item.Qty,
			})
			restockedUnits += item.Qty
		}
		skipped, err := j.ledger.Restock(ctx, tx, lines)
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"order_id":      order.ID,
				"skipped_lines": len(skipped),
			})
			j.logg.Warn(logCtx, "restock skipped lines with deleted variants")
		}

		err = j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				BuyerID:        order.BuyerID,
				PreviousStatus: enums.OrderStatusPending,
				NewStatus:      enums.OrderStatusCancelled,
			},
			Version: 1,
		})
		if err != nil {
			return err
		}

		err = j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				BuyerID:        order.BuyerID,
				RestockedUnits: restockedUnits,
			},
			Version: 1,
		})
		if err != nil {
			return err
		}

		cancelled = true
		return nil
	})
	return cancelled, err
}
