package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/cart"
	"github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	"github.com/arjunmehta-dev/threadmart-backend/internal/notifications"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type stockLedger interface {
	Resolve(ctx context.Context, productID uuid.UUID, color, size string) (*inventory.ResolvedLine, error)
	Reserve(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) ([]inventory.ReservationResult, error)
	Restock(ctx context.Context, tx *gorm.DB, lines []inventory.RestockLine) ([]inventory.RestockLine, error)
}

type cartReader interface {
	Get(ctx context.Context, userID uuid.UUID) (*cart.CartDTO, error)
	ClearTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type addressResolver interface {
	ShippingAddress(ctx context.Context, userID uuid.UUID, addressID *uuid.UUID) (types.Address, error)
}

type notifier interface {
	NotifyAll(ctx context.Context, inputs []notifications.Input)
}

// IntentCreator opens a gateway order for an online payment before the
// local order row is persisted. A failure aborts checkout.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amountCents int, receipt string) (string, error)
}

// Service runs the order lifecycle: checkout, the seller/buyer status
// transitions, and the read paths behind the order screens.
type Service interface {
	Create(ctx context.Context, input CheckoutInput) (*OrderDTO, error)
	UpdateStatus(ctx context.Context, sellerID, orderID uuid.UUID, next enums.OrderStatus) (*OrderDTO, error)
	Cancel(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDTO, error)
	List(ctx context.Context, input ListInput) (*ListDTO, error)
	Detail(ctx context.Context, userID uuid.UUID, role enums.Role, orderID uuid.UUID) (*OrderDTO, error)
	Track(ctx context.Context, buyerID, orderID uuid.UUID) (*TrackDTO, error)
}

type service struct {
	repo      *Repository
	tx        txRunner
	ledger    stockLedger
	carts     cartReader
	addresses addressResolver
	intents   IntentCreator
	outbox    outboxPublisher
	notify    notifier
	publisher realtime.Publisher
	shipping  config.ShippingConfig
	logg      *logger.Logger
}

// NewService wires the order lifecycle service. intents may be nil when the
// gateway is not configured; online checkouts then fail with a dependency
// error instead of a panic.
func NewService(
	repo *Repository,
	tx txRunner,
	ledger stockLedger,
	carts cartReader,
	addresses addressResolver,
	intents IntentCreator,
	outboxSvc outboxPublisher,
	notify notifier,
	publisher realtime.Publisher,
	shipping config.ShippingConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if addresses == nil {
		return nil, fmt.Errorf("address resolver required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		ledger:    ledger,
		carts:     carts,
		addresses: addresses,
		intents:   intents,
		outbox:    outboxSvc,
		notify:    notify,
		publisher: publisher,
		shipping:  shipping,
		logg:      logg,
	}, nil
}

// Create places an order. Stock is reserved for every line inside one
// transaction; any line that cannot be covered rolls the whole checkout
// back. Totals are computed server-side from the ledger's current prices,
// and a client-supplied total that disagrees rejects the request.
func (s *service) Create(ctx context.Context, input CheckoutInput) (*OrderDTO, error) {
	if err := validateCheckout(input); err != nil {
		return nil, err
	}

	requests, err := s.checkoutRequests(ctx, input)
	if err != nil {
		return nil, err
	}

	address, err := s.addresses.ShippingAddress(ctx, input.BuyerID, input.AddressID)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		results, err := s.ledger.Reserve(ctx, tx, requests)
		if err != nil {
			return err
		}
		if err := ensureAllReserved(results); err != nil {
			return err
		}

		items, subtotal := buildLineItems(results)
		shippingFee := s.shipping.FeeFor(subtotal)
		total := subtotal + shippingFee
		if input.ClientTotalCents != nil && *input.ClientTotalCents != total {
			return pkgerrors.New(pkgerrors.CodeValidation, "order total mismatch").
				WithDetails(map[string]any{
					"expected_total_cents": total,
					"client_total_cents":   *input.ClientTotalCents,
				})
		}

		repo := s.repo.WithTx(tx)
		orderNumber, err := repo.NextOrderNumber(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		order = &models.Order{
			ID:              uuid.New(),
			OrderNumber:     orderNumber,
			BuyerID:         input.BuyerID,
			Source:          input.Source,
			Status:          enums.OrderStatusPending,
			PaymentStatus:   enums.PaymentStatusPending,
			PaymentMethod:   input.PaymentMethod,
			SubtotalCents:   subtotal,
			ShippingCents:   shippingFee,
			TotalCents:      total,
			ShippingAddress: address,
			Items:           items,
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}

		if input.PaymentMethod == enums.PaymentMethodOnline {
			if s.intents == nil {
				return pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
			}
			receipt := fmt.Sprintf("order_%d", orderNumber)
			razorpayOrderID, err := s.intents.CreateIntent(ctx, total, receipt)
			if err != nil {
				return err
			}
			order.RazorpayOrderID = &razorpayOrderID
		}

		if err := persistOrder(ctx, tx, repo, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}

		if input.Source == enums.OrderSourceCart {
			if err := s.carts.ClearTx(ctx, tx, input.BuyerID); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         buyerActor(input.BuyerID),
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				BuyerID:       order.BuyerID,
				SellerIDs:     distinctSellers(order.Items),
				Source:        order.Source,
				PaymentMethod: order.PaymentMethod,
				TotalCents:    order.TotalCents,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterCreate(ctx, input, order)
	return orderFromModel(order), nil
}

// afterCreate runs the best-effort side of checkout. The order is already
// committed; nothing here may fail it.
func (s *service) afterCreate(ctx context.Context, input CheckoutInput, order *models.Order) {
	sellerIDs := distinctSellers(order.Items)
	if s.notify != nil {
		inputs := make([]notifications.Input, 0, len(sellerIDs))
		for _, sellerID := range sellerIDs {
			inputs = append(inputs, notifications.Input{
				UserID:  sellerID,
				Role:    enums.RoleSeller,
				Type:    enums.NotificationTypeNewOrder,
				Message: fmt.Sprintf("New order #%d received", order.OrderNumber),
				OrderID: &order.ID,
			})
		}
		s.notify.NotifyAll(ctx, inputs)
	}

	// The buyer channel carries one cart-update frame per checkout; the
	// type field tells the gateway what happened to the cart. Product
	// pages get their own stock broadcast on the product channel.
	switch input.Source {
	case enums.OrderSourceCart:
		s.publish(ctx, realtime.BuyerTopic(order.BuyerID), "cart-update", map[string]any{
			"type":       "cart-cleared-after-order",
			"order_id":   order.ID,
			"item_count": 0,
		})
	case enums.OrderSourceBuyNow:
		update := map[string]any{
			"type":     "stock-changed",
			"order_id": order.ID,
		}
		if cartView, err := s.carts.Get(ctx, order.BuyerID); err == nil {
			update["cart"] = cartView
			update["item_count"] = len(cartView.Items)
		}
		s.publish(ctx, realtime.BuyerTopic(order.BuyerID), "cart-update", update)
		for _, item := range order.Items {
			s.publish(ctx, realtime.ProductTopic(item.ProductID), "stock-changed", map[string]any{
				"product_id": item.ProductID,
				"color":      item.Color,
				"size":       item.Size,
			})
		}
	}
}

// UpdateStatus moves an order along the lifecycle on behalf of a seller. A
// transition to cancelled returns every recorded line quantity to stock in
// the same transaction that flips the status.
func (s *service) UpdateStatus(ctx context.Context, sellerID, orderID uuid.UUID, next enums.OrderStatus) (*OrderDTO, error) {
	if !next.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		owns, err := repo.SellerOwnsLine(ctx, orderID, sellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order ownership")
		}
		if !owns {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order has no items from this seller")
		}

		updated, err = s.applyTransition(ctx, tx, order, next, sellerActor(sellerID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated)
	return orderFromModel(updated), nil
}

// Cancel lets the buyer abandon an order that has not shipped yet. The
// recorded line quantities go back to stock atomically with the status flip.
func (s *service) Cancel(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderDTO, error) {
	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another buyer")
		}

		updated, err = s.applyTransition(ctx, tx, order, enums.OrderStatusCancelled, buyerActor(buyerID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated)
	return orderFromModel(updated), nil
}

// applyTransition enforces the lifecycle table and persists the flip plus
// its side effects inside tx. The caller holds authorization.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, next enums.OrderStatus, actor *outbox.ActorRef) (*models.Order, error) {
	if !canTransition(order.Status, next) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, next))
	}

	repo := s.repo.WithTx(tx)
	now := time.Now()
	fields := map[string]any{"status": next}
	switch next {
	case enums.OrderStatusDelivered:
		fields["delivered_at"] = now
	case enums.OrderStatusCancelled:
		fields["cancelled_at"] = now
	}

	restockedUnits := 0
	if next == enums.OrderStatusCancelled {
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
		skipped, err := s.ledger.Restock(ctx, tx, lines)
		if err != nil {
			return nil, err
		}
		if len(skipped) > 0 && s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":      order.ID,
				"skipped_lines": len(skipped),
			})
			s.logg.Warn(logCtx, "restock skipped lines with deleted variants")
		}
	}

	if err := repo.UpdateFields(ctx, order.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	previous := order.Status
	order.Status = next
	switch next {
	case enums.OrderStatusDelivered:
		order.DeliveredAt = &now
	case enums.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			BuyerID:        order.BuyerID,
			PreviousStatus: previous,
			NewStatus:      next,
		},
		Version: 1,
	})
	if err != nil {
		return nil, err
	}

	if next == enums.OrderStatusCancelled {
		err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: payloads.OrderCancelledEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				BuyerID:        order.BuyerID,
				RestockedUnits: restockedUnits,
			},
			Version: 1,
		})
		if err != nil {
			return nil, err
		}
	}

	return order, nil
}

// afterTransition fans out the committed status change. Best effort only.
func (s *service) afterTransition(ctx context.Context, order *models.Order) {
	if s.notify != nil {
		message := fmt.Sprintf("Order #%d is now %s", order.OrderNumber, order.Status)
		inputs := []notifications.Input{{
			UserID:  order.BuyerID,
			Role:    enums.RoleBuyer,
			Type:    enums.NotificationTypeOrderUpdate,
			Message: message,
			OrderID: &order.ID,
		}}
		for _, sellerID := range distinctSellers(order.Items) {
			inputs = append(inputs, notifications.Input{
				UserID:  sellerID,
				Role:    enums.RoleSeller,
				Type:    enums.NotificationTypeOrderUpdate,
				Message: message,
				OrderID: &order.ID,
			})
		}
		s.notify.NotifyAll(ctx, inputs)
	}

	s.publish(ctx, realtime.OrderTopic(order.ID), "order-updated", map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// List pages through orders for the caller's role.
func (s *service) List(ctx context.Context, input ListInput) (*ListDTO, error) {
	var (
		records []summaryRecord
		cursor  string
		err     error
	)
	switch input.Role {
	case enums.RoleBuyer:
		records, cursor, err = s.repo.ListByBuyer(ctx, input.UserID, input.Pagination)
	case enums.RoleSeller:
		records, cursor, err = s.repo.ListBySeller(ctx, input.UserID, input.Pagination)
	case enums.RoleAdmin:
		records, cursor, err = s.repo.ListAll(ctx, input.Pagination)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown role")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	summaries := make([]SummaryDTO, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, SummaryDTO{
			ID:            record.ID,
			OrderNumber:   record.OrderNumber,
			Status:        enums.OrderStatus(record.Status),
			PaymentStatus: enums.PaymentStatus(record.PaymentStatus),
			PaymentMethod: enums.PaymentMethod(record.PaymentMethod),
			TotalCents:    record.TotalCents,
			ItemCount:     record.ItemCount,
			CreatedAt:     record.CreatedAt,
		})
	}
	return &ListDTO{Orders: summaries, NextCursor: cursor}, nil
}

// Detail returns the full order for its buyer, a selling seller, or an admin.
func (s *service) Detail(ctx context.Context, userID uuid.UUID, role enums.Role, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	allowed := false
	switch role {
	case enums.RoleAdmin:
		allowed = true
	case enums.RoleBuyer:
		allowed = order.BuyerID == userID
	case enums.RoleSeller:
		for _, item := range order.Items {
			if item.SellerID == userID {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "no access to this order")
	}
	return orderFromModel(order), nil
}

// Track renders the buyer's tracking timeline for one order.
func (s *service) Track(ctx context.Context, buyerID, orderID uuid.UUID) (*TrackDTO, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "no access to this order")
	}
	return buildTimeline(order), nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) publish(ctx context.Context, topic, event string, payload any) {
	if err := s.publisher.Publish(ctx, topic, event, payload); err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"topic": topic, "event": event})
		s.logg.Error(logCtx, "realtime publish dropped", err)
	}
}

const orderNumberAttempts = 3

// persistOrder inserts the order, re-allocating the order number when a
// racing checkout grabbed the same one. The savepoint keeps the enclosing
// transaction usable after the rejected insert, so the retry is invisible
// to the buyer.
func persistOrder(ctx context.Context, tx *gorm.DB, repo *Repository, order *models.Order) error {
	for attempt := 1; ; attempt++ {
		tx.SavePoint("order_insert")
		err := repo.Create(ctx, order)
		if err == nil {
			return nil
		}
		if attempt >= orderNumberAttempts || !db.IsUniqueViolation(err) {
			return err
		}
		tx.RollbackTo("order_insert")

		next, numErr := repo.NextOrderNumber(ctx)
		if numErr != nil {
			return numErr
		}
		order.OrderNumber = next
	}
}

// checkoutRequests expands the checkout source into reservation requests.
func (s *service) checkoutRequests(ctx context.Context, input CheckoutInput) ([]inventory.ReservationRequest, error) {
	if input.Source == enums.OrderSourceBuyNow {
		line := input.BuyNow
		return []inventory.ReservationRequest{{
			ProductID: line.ProductID,
			Color:     strings.TrimSpace(line.Color),
			Size:      strings.TrimSpace(line.Size),
			Qty:       line.Qty,
		}}, nil
	}

	cartView, err := s.carts.Get(ctx, input.BuyerID)
	if err != nil {
		return nil, err
	}
	requests := make([]inventory.ReservationRequest, 0, len(cartView.Items))
	for _, line := range cartView.Items {
		if line.Qty <= 0 {
			continue
		}
		requests = append(requests, inventory.ReservationRequest{
			ProductID: line.ProductID,
			Color:     line.Color,
			Size:      line.Size,
			Qty:       line.Qty,
		})
	}
	if len(requests) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no purchasable items")
	}
	return requests, nil
}

func validateCheckout(input CheckoutInput) error {
	if input.BuyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if !input.Source.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown order source")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	if input.Source == enums.OrderSourceBuyNow {
		if input.BuyNow == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "buy-now line is required")
		}
		if input.BuyNow.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if strings.TrimSpace(input.BuyNow.Color) == "" || strings.TrimSpace(input.BuyNow.Size) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "color and size are required")
		}
		if input.BuyNow.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
		}
	}
	return nil
}

// ensureAllReserved turns a partial reserve into an insufficient-stock
// rejection carrying every failed line, so the caller's rollback undoes the
// lines that did succeed.
func ensureAllReserved(results []inventory.ReservationResult) error {
	var failed []map[string]any
	for _, result := range results {
		if result.Reserved {
			continue
		}
		detail := map[string]any{
			"product_id": result.Request.ProductID,
			"color":      result.Request.Color,
			"size":       result.Request.Size,
			"requested":  result.Request.Qty,
			"reason":     result.Reason,
		}
		if result.Line != nil {
			detail["available"] = result.Line.StockQty
		}
		failed = append(failed, detail)
	}
	if len(failed) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "some items are no longer available").
		WithDetails(map[string]any{"lines": failed})
}

func buildLineItems(results []inventory.ReservationResult) ([]models.OrderLineItem, int) {
	items := make([]models.OrderLineItem, 0, len(results))
	subtotal := 0
	for _, result := range results {
		line := result.Line
		unitPrice := effectiveUnitPrice(line.PriceCents, line.DiscountPercent)
		lineSubtotal := unitPrice * result.Request.Qty
		items = append(items, models.OrderLineItem{
			ID:             uuid.New(),
			ProductID:      line.ProductID,
			SellerID:       line.SellerID,
			Name:           line.ProductName,
			Color:          line.Color,
			Size:           line.Size,
			Qty:            result.Request.Qty,
			UnitPriceCents: unitPrice,
			SubtotalCents:  lineSubtotal,
		})
		subtotal += lineSubtotal
	}
	return items, subtotal
}

func effectiveUnitPrice(priceCents, discountPercent int) int {
	if discountPercent <= 0 {
		return priceCents
	}
	return priceCents * (100 - discountPercent) / 100
}

func distinctSellers(items []models.OrderLineItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	sellers := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		sellers = append(sellers, item.SellerID)
	}
	return sellers
}

func buyerActor(userID uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: userID, Role: enums.RoleBuyer.String()}
}

func sellerActor(userID uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: userID, Role: enums.RoleSeller.String()}
}

// buildTimeline derives the tracking steps from the order's timestamps. A
// cancelled order shows the steps reached before cancellation plus the
// cancellation itself.
func buildTimeline(order *models.Order) *TrackDTO {
	createdAt := order.CreatedAt
	steps := []TrackStep{{
		Status:    enums.OrderStatusPending,
		Completed: true,
		At:        &createdAt,
	}}

	if order.Status == enums.OrderStatusCancelled {
		steps = append(steps, TrackStep{
			Status:    enums.OrderStatusCancelled,
			Completed: true,
			At:        order.CancelledAt,
		})
		return &TrackDTO{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      order.Status,
			Steps:       steps,
		}
	}

	progression := []enums.OrderStatus{
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	}
	rank := map[enums.OrderStatus]int{
		enums.OrderStatusPending:    0,
		enums.OrderStatusProcessing: 1,
		enums.OrderStatusShipped:    2,
		enums.OrderStatusDelivered:  3,
	}
	current := rank[order.Status]
	for i, status := range progression {
		step := TrackStep{Status: status, Completed: current >= i+1}
		if status == enums.OrderStatusDelivered && step.Completed {
			step.At = order.DeliveredAt
		}
		steps = append(steps, step)
	}

	return &TrackDTO{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Steps:       steps,
	}
}
