package orders

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/cart"
	"github.com/arjunmehta-dev/threadmart-backend/internal/inventory"
	"github.com/arjunmehta-dev/threadmart-backend/internal/notifications"
	"github.com/arjunmehta-dev/threadmart-backend/internal/users"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/config"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
)

type fakeIntents struct {
	id    string
	fail  bool
	calls int
}

func (f *fakeIntents) CreateIntent(ctx context.Context, amountCents int, receipt string) (string, error) {
	f.calls++
	if f.fail {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")
	}
	return f.id, nil
}

type publishedFrame struct {
	topic   string
	event   string
	payload map[string]any
}

type capturingPublisher struct {
	frames []publishedFrame
}

func (c *capturingPublisher) Publish(ctx context.Context, topic, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	c.frames = append(c.frames, publishedFrame{topic: topic, event: event, payload: fields})
	return nil
}

func (c *capturingPublisher) find(topic, event string) []publishedFrame {
	var out []publishedFrame
	for _, f := range c.frames {
		if f.topic == topic && f.event == event {
			out = append(out, f)
		}
	}
	return out
}

type testEnv struct {
	svc     Service
	conn    *gorm.DB
	carts   cart.Service
	intents *fakeIntents
	bus     *capturingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.Product{}, &models.ProductVariant{}, &models.VariantSize{},
		&models.Cart{}, &models.CartItem{},
		&models.User{}, &models.UserAddress{},
		&models.Order{}, &models.OrderLineItem{},
		&models.OutboxEvent{}, &models.Notification{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := db.FromConn(conn)
	ledger, err := inventory.NewService(inventory.NewRepository(conn))
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	cartSvc, err := cart.NewService(cart.NewRepository(conn), client, ledger, nil)
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	usersSvc, err := users.NewService(users.NewRepository(conn), client)
	if err != nil {
		t.Fatalf("new users service: %v", err)
	}
	notifySvc, err := notifications.NewService(notifications.NewRepository(conn), realtime.NopPublisher{}, nil)
	if err != nil {
		t.Fatalf("new notifications service: %v", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)
	intents := &fakeIntents{id: "order_rzp_" + uuid.NewString()[:8]}
	shipping := config.ShippingConfig{FlatFeeCents: 4900, FreeThresholdCents: 99900}
	bus := &capturingPublisher{}

	svc, err := NewService(NewRepository(conn), client, ledger, cartSvc, usersSvc,
		intents, outboxSvc, notifySvc, bus, shipping, nil)
	if err != nil {
		t.Fatalf("new orders service: %v", err)
	}
	return &testEnv{svc: svc, conn: conn, carts: cartSvc, intents: intents, bus: bus}
}

type seededLine struct {
	productID uuid.UUID
	sellerID  uuid.UUID
	sizeID    uuid.UUID
}

func seedProduct(t *testing.T, conn *gorm.DB, sellerID uuid.UUID, title, color, size string, stock, priceCents, discountPercent int) seededLine {
	t.Helper()
	product := models.Product{
		ID:       uuid.New(),
		SellerID: sellerID,
		Title:    title,
		Category: "tshirts",
		IsActive: true,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	variant := models.ProductVariant{
		ID:        uuid.New(),
		ProductID: product.ID,
		Color:     color,
		Images:    []string{"https://cdn.example.com/" + color + ".jpg"},
	}
	if err := conn.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	vs := models.VariantSize{
		ID:              uuid.New(),
		VariantID:       variant.ID,
		Size:            size,
		PriceCents:      priceCents,
		DiscountPercent: discountPercent,
		StockQty:        stock,
	}
	if err := conn.Create(&vs).Error; err != nil {
		t.Fatalf("seed size: %v", err)
	}
	return seededLine{productID: product.ID, sellerID: sellerID, sizeID: vs.ID}
}

func seedBuyer(t *testing.T, conn *gorm.DB) uuid.UUID {
	t.Helper()
	buyerID := uuid.New()
	address := models.UserAddress{
		ID:         uuid.New(),
		UserID:     buyerID,
		FullName:   "Asha Verma",
		Phone:      "+919800000000",
		Line1:      "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
		IsDefault:  true,
	}
	if err := conn.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return buyerID
}

func stockOf(t *testing.T, conn *gorm.DB, sizeID uuid.UUID) int {
	t.Helper()
	var vs models.VariantSize
	if err := conn.First(&vs, "id = ?", sizeID).Error; err != nil {
		t.Fatalf("load size: %v", err)
	}
	return vs.StockQty
}

func orderCount(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := conn.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	return count
}

func outboxCount(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	err := conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).
		Error
	if err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	return count
}

func TestCheckoutFromCart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	line := seedProduct(t, env.conn, uuid.New(), "Oversized Tee", "black", "M", 5, 59900, 0)

	if _, err := env.carts.Add(ctx, buyerID, cart.LineInput{ProductID: line.productID, Color: "black", Size: "M", Qty: 1}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	dto, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceCart,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if dto.OrderNumber != 1001 {
		t.Fatalf("expected order number 1001, got %d", dto.OrderNumber)
	}
	if dto.Status != enums.OrderStatusPending || dto.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("unexpected initial states: %s/%s", dto.Status, dto.PaymentStatus)
	}
	if dto.SubtotalCents != 59900 || dto.ShippingCents != 4900 || dto.TotalCents != 64800 {
		t.Fatalf("unexpected totals: %d/%d/%d", dto.SubtotalCents, dto.ShippingCents, dto.TotalCents)
	}
	if len(dto.Items) != 1 || dto.Items[0].SellerID != line.sellerID {
		t.Fatalf("unexpected items: %+v", dto.Items)
	}
	if dto.ShippingAddress.FullName != "Asha Verma" || dto.ShippingAddress.City != "Bengaluru" {
		t.Fatalf("address snapshot missing: %+v", dto.ShippingAddress)
	}

	if got := stockOf(t, env.conn, line.sizeID); got != 4 {
		t.Fatalf("expected stock 4 after checkout, got %d", got)
	}
	cleared, err := env.carts.Get(ctx, buyerID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cleared.Items) != 0 {
		t.Fatalf("expected cleared cart, got %d lines", len(cleared.Items))
	}
	if got := outboxCount(t, env.conn, enums.EventOrderCreated); got != 1 {
		t.Fatalf("expected 1 order.created event, got %d", got)
	}

	var sellerNotes int64
	err = env.conn.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", line.sellerID, enums.NotificationTypeNewOrder).
		Count(&sellerNotes).
		Error
	if err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if sellerNotes != 1 {
		t.Fatalf("expected 1 seller notification, got %d", sellerNotes)
	}
}

func TestCheckoutBuyNowAppliesDiscountAndFreeShipping(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	line := seedProduct(t, env.conn, uuid.New(), "Denim Jacket", "indigo", "L", 3, 100000, 10)

	dto, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceBuyNow,
		BuyNow:        &BuyNowInput{ProductID: line.productID, Color: "indigo", Size: "L", Qty: 2},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if dto.Items[0].UnitPriceCents != 90000 {
		t.Fatalf("expected discounted unit price 90000, got %d", dto.Items[0].UnitPriceCents)
	}
	if dto.SubtotalCents != 180000 || dto.ShippingCents != 0 || dto.TotalCents != 180000 {
		t.Fatalf("unexpected totals: %d/%d/%d", dto.SubtotalCents, dto.ShippingCents, dto.TotalCents)
	}
	if got := stockOf(t, env.conn, line.sizeID); got != 1 {
		t.Fatalf("expected stock 1, got %d", got)
	}
}

func TestCheckoutRejectsTotalMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	line := seedProduct(t, env.conn, uuid.New(), "Tee", "white", "S", 5, 49900, 0)

	wrongTotal := 100
	_, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:          buyerID,
		Source:           enums.OrderSourceBuyNow,
		BuyNow:           &BuyNowInput{ProductID: line.productID, Color: "white", Size: "S", Qty: 1},
		PaymentMethod:    enums.PaymentMethodCOD,
		ClientTotalCents: &wrongTotal,
	})
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := stockOf(t, env.conn, line.sizeID); got != 5 {
		t.Fatalf("expected reservation rolled back, stock %d", got)
	}
	if got := orderCount(t, env.conn); got != 0 {
		t.Fatalf("expected no orders, got %d", got)
	}
}

// drainingLedger empties one counter inside the checkout transaction, after
// the cart was reconciled but before the reserve pass, reproducing a
// concurrent sale of the last units.
type drainingLedger struct {
	*inventory.Service
	victimSizeID uuid.UUID
}

func (d *drainingLedger) Reserve(ctx context.Context, tx *gorm.DB, requests []inventory.ReservationRequest) ([]inventory.ReservationResult, error) {
	if err := tx.Exec("UPDATE variant_sizes SET stock_qty = 0 WHERE id = ?", d.victimSizeID).Error; err != nil {
		return nil, err
	}
	return d.Service.Reserve(ctx, tx, requests)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	keep := seedProduct(t, env.conn, uuid.New(), "Tee", "black", "M", 5, 49900, 0)
	victim := seedProduct(t, env.conn, uuid.New(), "Hoodie", "grey", "L", 2, 129900, 0)

	if _, err := env.carts.Add(ctx, buyerID, cart.LineInput{ProductID: keep.productID, Color: "black", Size: "M", Qty: 2}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	if _, err := env.carts.Add(ctx, buyerID, cart.LineInput{ProductID: victim.productID, Color: "grey", Size: "L", Qty: 2}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	base, err := inventory.NewService(inventory.NewRepository(env.conn))
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	usersSvc, err := users.NewService(users.NewRepository(env.conn), db.FromConn(env.conn))
	if err != nil {
		t.Fatalf("new users service: %v", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(env.conn), nil)
	racing, err := NewService(NewRepository(env.conn), db.FromConn(env.conn),
		&drainingLedger{Service: base, victimSizeID: victim.sizeID},
		env.carts, usersSvc, nil, outboxSvc, nil, realtime.NopPublisher{},
		config.ShippingConfig{FlatFeeCents: 4900, FreeThresholdCents: 99900}, nil)
	if err != nil {
		t.Fatalf("new orders service: %v", err)
	}

	_, err = racing.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceCart,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if got := stockOf(t, env.conn, keep.sizeID); got != 5 {
		t.Fatalf("expected first line rolled back to 5, got %d", got)
	}
	if got := stockOf(t, env.conn, victim.sizeID); got != 2 {
		t.Fatalf("expected drained counter rolled back to 2, got %d", got)
	}
	if got := orderCount(t, env.conn); got != 0 {
		t.Fatalf("expected no orders, got %d", got)
	}
}

func TestOnlineCheckoutIntentLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	line := seedProduct(t, env.conn, uuid.New(), "Joggers", "olive", "M", 6, 109900, 0)

	env.intents.fail = true
	_, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceBuyNow,
		BuyNow:        &BuyNowInput{ProductID: line.productID, Color: "olive", Size: "M", Qty: 1},
		PaymentMethod: enums.PaymentMethodOnline,
	})
	if err == nil {
		t.Fatal("expected intent failure to abort checkout")
	}
	if got := stockOf(t, env.conn, line.sizeID); got != 6 {
		t.Fatalf("expected reservation rolled back, stock %d", got)
	}
	if got := orderCount(t, env.conn); got != 0 {
		t.Fatalf("expected no orders, got %d", got)
	}

	env.intents.fail = false
	dto, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceBuyNow,
		BuyNow:        &BuyNowInput{ProductID: line.productID, Color: "olive", Size: "M", Qty: 1},
		PaymentMethod: enums.PaymentMethodOnline,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if dto.RazorpayOrderID == nil || *dto.RazorpayOrderID != env.intents.id {
		t.Fatalf("expected gateway order id on the order, got %v", dto.RazorpayOrderID)
	}
	if env.intents.calls != 2 {
		t.Fatalf("expected 2 intent calls, got %d", env.intents.calls)
	}
}

func TestSellerStatusFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	sellerID := uuid.New()
	line := seedProduct(t, env.conn, sellerID, "Cap", "red", "OS", 4, 39900, 0)

	dto, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceBuyNow,
		BuyNow:        &BuyNowInput{ProductID: line.productID, Color: "red", Size: "OS", Qty: 1},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, uuid.New(), dto.ID, enums.OrderStatusProcessing); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign seller, got %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, sellerID, dto.ID, enums.OrderStatusShipped); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict for pending->shipped, got %v", err)
	}

	for _, next := range []enums.OrderStatus{
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	} {
		updated, err := env.svc.UpdateStatus(ctx, sellerID, dto.ID, next)
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("expected status %s, got %s", next, updated.Status)
		}
	}

	detail, err := env.svc.Detail(ctx, buyerID, enums.RoleBuyer, dto.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.DeliveredAt == nil {
		t.Fatal("expected delivered timestamp")
	}

	if _, err := env.svc.UpdateStatus(ctx, sellerID, dto.ID, enums.OrderStatusCancelled); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected delivered to be terminal, got %v", err)
	}
	if got := outboxCount(t, env.conn, enums.EventOrderStatusChanged); got != 3 {
		t.Fatalf("expected 3 status events, got %d", got)
	}
}

func TestCancelRestocksRecordedQuantities(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	lineA := seedProduct(t, env.conn, uuid.New(), "Tee", "black", "M", 5, 49900, 0)
	lineB := seedProduct(t, env.conn, uuid.New(), "Tank", "white", "S", 3, 29900, 0)

	if _, err := env.carts.Add(ctx, buyerID, cart.LineInput{ProductID: lineA.productID, Color: "black", Size: "M", Qty: 2}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	if _, err := env.carts.Add(ctx, buyerID, cart.LineInput{ProductID: lineB.productID, Color: "white", Size: "S", Qty: 1}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}

	dto, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyerID,
		Source:        enums.OrderSourceCart,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if got := stockOf(t, env.conn, lineA.sizeID); got != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", got)
	}

	if _, err := env.svc.Cancel(ctx, uuid.New(), dto.ID); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign buyer, got %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, buyerID, dto.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled state: %+v", cancelled)
	}
	if got := stockOf(t, env.conn, lineA.sizeID); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
	if got := stockOf(t, env.conn, lineB.sizeID); got != 3 {
		t.Fatalf("expected stock restored to 3, got %d", got)
	}
	if got := outboxCount(t, env.conn, enums.EventOrderCancelled); got != 1 {
		t.Fatalf("expected 1 cancelled event, got %d", got)
	}

	if _, err := env.svc.Cancel(ctx, buyerID, dto.ID); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected duplicate cancel to conflict, got %v", err)
	}

	track, err := env.svc.Track(ctx, buyerID, dto.ID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if len(track.Steps) != 2 || track.Steps[1].Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled timeline, got %+v", track.Steps)
	}
}

func TestListDetailAndTrackAuthorization(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)
	sellerA := uuid.New()
	sellerB := uuid.New()
	lineA := seedProduct(t, env.conn, sellerA, "Tee", "black", "M", 5, 49900, 0)
	lineB := seedProduct(t, env.conn, sellerB, "Hoodie", "grey", "L", 5, 129900, 0)

	for _, line := range []struct {
		seeded seededLine
		color  string
		size   string
	}{
		{lineA, "black", "M"},
		{lineB, "grey", "L"},
	} {
		_, err := env.svc.Create(ctx, CheckoutInput{
			BuyerID:       buyerID,
			Source:        enums.OrderSourceBuyNow,
			BuyNow:        &BuyNowInput{ProductID: line.seeded.productID, Color: line.color, Size: line.size, Qty: 1},
			PaymentMethod: enums.PaymentMethodCOD,
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	buyerList, err := env.svc.List(ctx, ListInput{UserID: buyerID, Role: enums.RoleBuyer})
	if err != nil {
		t.Fatalf("list buyer orders: %v", err)
	}
	if len(buyerList.Orders) != 2 {
		t.Fatalf("expected 2 buyer orders, got %d", len(buyerList.Orders))
	}

	sellerList, err := env.svc.List(ctx, ListInput{UserID: sellerA, Role: enums.RoleSeller})
	if err != nil {
		t.Fatalf("list seller orders: %v", err)
	}
	if len(sellerList.Orders) != 1 {
		t.Fatalf("expected 1 seller order, got %d", len(sellerList.Orders))
	}
	orderID := sellerList.Orders[0].ID

	if _, err := env.svc.Detail(ctx, sellerA, enums.RoleSeller, orderID); err != nil {
		t.Fatalf("seller detail: %v", err)
	}
	if _, err := env.svc.Detail(ctx, uuid.New(), enums.RoleBuyer, orderID); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign buyer, got %v", err)
	}
	if _, err := env.svc.Detail(ctx, uuid.New(), enums.RoleAdmin, orderID); err != nil {
		t.Fatalf("admin detail: %v", err)
	}

	track, err := env.svc.Track(ctx, buyerID, orderID)
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if len(track.Steps) != 4 || !track.Steps[0].Completed || track.Steps[1].Completed {
		t.Fatalf("unexpected pending timeline: %+v", track.Steps)
	}
	if _, err := env.svc.Track(ctx, uuid.New(), orderID); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden track for non-owner, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	all := []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
		enums.OrderStatusCancelled,
	}
	allowed := map[enums.OrderStatus]map[enums.OrderStatus]bool{
		enums.OrderStatusPending:    {enums.OrderStatusProcessing: true, enums.OrderStatusCancelled: true},
		enums.OrderStatusProcessing: {enums.OrderStatusShipped: true, enums.OrderStatusCancelled: true},
		enums.OrderStatusShipped:    {enums.OrderStatusDelivered: true},
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			if got := canTransition(from, to); got != want {
				t.Fatalf("transition %s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCheckoutPublishesCartUpdateFrames(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	cartBuyer := seedBuyer(t, env.conn)
	cartLine := seedProduct(t, env.conn, uuid.New(), "Boxy Tee", "sand", "M", 5, 49900, 0)
	if _, err := env.carts.Add(ctx, cartBuyer, cart.LineInput{ProductID: cartLine.productID, Color: "sand", Size: "M", Qty: 1}); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	if _, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       cartBuyer,
		Source:        enums.OrderSourceCart,
		PaymentMethod: enums.PaymentMethodCOD,
	}); err != nil {
		t.Fatalf("cart checkout: %v", err)
	}

	frames := env.bus.find(realtime.BuyerTopic(cartBuyer), "cart-update")
	if len(frames) != 1 {
		t.Fatalf("expected one cart-update on buyer channel, got %d", len(frames))
	}
	if got := frames[0].payload["type"]; got != "cart-cleared-after-order" {
		t.Fatalf("expected type cart-cleared-after-order, got %v", got)
	}
	if got := frames[0].payload["item_count"]; got != float64(0) {
		t.Fatalf("expected item_count 0 after cart checkout, got %v", got)
	}

	buyNowBuyer := seedBuyer(t, env.conn)
	buyNowLine := seedProduct(t, env.conn, uuid.New(), "Raw Denim", "indigo", "L", 3, 89900, 0)
	if _, err := env.svc.Create(ctx, CheckoutInput{
		BuyerID:       buyNowBuyer,
		Source:        enums.OrderSourceBuyNow,
		BuyNow:        &BuyNowInput{ProductID: buyNowLine.productID, Color: "indigo", Size: "L", Qty: 1},
		PaymentMethod: enums.PaymentMethodCOD,
	}); err != nil {
		t.Fatalf("buy-now checkout: %v", err)
	}

	frames = env.bus.find(realtime.BuyerTopic(buyNowBuyer), "cart-update")
	if len(frames) != 1 {
		t.Fatalf("expected one cart-update for buy-now buyer, got %d", len(frames))
	}
	if got := frames[0].payload["type"]; got != "stock-changed" {
		t.Fatalf("expected type stock-changed for buy-now, got %v", got)
	}
	if len(env.bus.find(realtime.ProductTopic(buyNowLine.productID), "stock-changed")) != 1 {
		t.Fatalf("expected stock-changed broadcast on product channel")
	}
}

func TestCreateRetriesOrderNumberCollision(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	buyerID := seedBuyer(t, env.conn)

	first := models.Order{
		ID:            uuid.New(),
		OrderNumber:   1001,
		BuyerID:       buyerID,
		Source:        enums.OrderSourceCart,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodCOD,
		SubtotalCents: 49900,
		ShippingCents: 4900,
		TotalCents:    54800,
	}
	if err := env.conn.Create(&first).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	// A racing checkout already committed order number 1001; the insert must
	// re-allocate instead of surfacing the unique violation to the buyer.
	second := models.Order{
		ID:            uuid.New(),
		OrderNumber:   first.OrderNumber,
		BuyerID:       buyerID,
		Source:        enums.OrderSourceCart,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		PaymentMethod: enums.PaymentMethodCOD,
		SubtotalCents: 29900,
		ShippingCents: 4900,
		TotalCents:    34800,
	}
	err := env.conn.Transaction(func(tx *gorm.DB) error {
		return persistOrder(ctx, tx, NewRepository(env.conn).WithTx(tx), &second)
	})
	if err != nil {
		t.Fatalf("persist colliding order: %v", err)
	}
	if second.OrderNumber != first.OrderNumber+1 {
		t.Fatalf("expected re-allocated order number %d, got %d", first.OrderNumber+1, second.OrderNumber)
	}
	if got := orderCount(t, env.conn); got != 2 {
		t.Fatalf("expected both orders persisted, got %d", got)
	}
}
