package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/orders"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/razorpay"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
)

const testSecret = "test_webhook_secret"

type fakeGateway struct {
	nextID      string
	createFails bool
	created     []razorpay.OrderParams
}

func (f *fakeGateway) CreateOrder(ctx context.Context, params razorpay.OrderParams) (*razorpay.Order, error) {
	f.created = append(f.created, params)
	if f.createFails {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable")
	}
	return &razorpay.Order{ID: f.nextID, Amount: params.AmountCents, Currency: params.Currency}, nil
}

func (f *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return razorpay.VerifySignature(testSecret, orderID, paymentID, signature)
}

func signFor(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestService(t *testing.T) (Service, *gorm.DB, *fakeGateway) {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Order{}, &models.OrderLineItem{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	gw := &fakeGateway{nextID: "order_rzp_" + uuid.NewString()[:8]}
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), nil)
	svc, err := NewService(orders.NewRepository(conn), db.FromConn(conn), gw, outboxSvc, nil, realtime.NopPublisher{}, nil)
	if err != nil {
		t.Fatalf("new payments service: %v", err)
	}
	return svc, conn, gw
}

func seedOnlineOrder(t *testing.T, conn *gorm.DB, buyerID uuid.UUID, razorpayOrderID string) *models.Order {
	t.Helper()
	order := models.Order{
		ID:              uuid.New(),
		OrderNumber:     1001,
		BuyerID:         buyerID,
		Source:          enums.OrderSourceCart,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		PaymentMethod:   enums.PaymentMethodOnline,
		SubtotalCents:   59900,
		ShippingCents:   4900,
		TotalCents:      64800,
		RazorpayOrderID: &razorpayOrderID,
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return &order
}

func reloadOrder(t *testing.T, conn *gorm.DB, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := conn.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return &order
}

func TestVerifySettlesOrder(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	seeded := seedOnlineOrder(t, conn, buyerID, "order_rzp_settle")
	paymentID := "pay_settle_1"

	result, err := svc.Verify(ctx, VerifyInput{
		BuyerID:           buyerID,
		RazorpayOrderID:   "order_rzp_settle",
		RazorpayPaymentID: paymentID,
		Signature:         signFor("order_rzp_settle", paymentID),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != enums.OrderStatusProcessing || result.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("unexpected result: %+v", result)
	}

	row := reloadOrder(t, conn, seeded.ID)
	if row.PaymentStatus != enums.PaymentStatusPaid || row.Status != enums.OrderStatusProcessing {
		t.Fatalf("order not settled: %s/%s", row.Status, row.PaymentStatus)
	}
	if row.RazorpayPaymentID == nil || *row.RazorpayPaymentID != paymentID {
		t.Fatalf("payment id not recorded: %v", row.RazorpayPaymentID)
	}

	var events int64
	err = conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentSettled).
		Count(&events).
		Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 payment.settled event, got %d", events)
	}

	// Replayed callback with the same payment id is a no-op success.
	again, err := svc.Verify(ctx, VerifyInput{
		BuyerID:           buyerID,
		RazorpayOrderID:   "order_rzp_settle",
		RazorpayPaymentID: paymentID,
		Signature:         signFor("order_rzp_settle", paymentID),
	})
	if err != nil {
		t.Fatalf("replay verify: %v", err)
	}
	if again.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("unexpected replay result: %+v", again)
	}
	err = conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventPaymentSettled).
		Count(&events).
		Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected replay to emit nothing, got %d events", events)
	}
}

func TestVerifyTamperedSignatureNeverMutates(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	seeded := seedOnlineOrder(t, conn, buyerID, "order_rzp_tamper")

	_, err := svc.Verify(ctx, VerifyInput{
		BuyerID:           buyerID,
		RazorpayOrderID:   "order_rzp_tamper",
		RazorpayPaymentID: "pay_tamper_1",
		Signature:         signFor("order_rzp_tamper", "pay_other"),
	})
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeInvalidSignature {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	row := reloadOrder(t, conn, seeded.ID)
	if row.PaymentStatus != enums.PaymentStatusPending || row.Status != enums.OrderStatusPending {
		t.Fatalf("tampered callback mutated the order: %s/%s", row.Status, row.PaymentStatus)
	}
	if row.RazorpayPaymentID != nil {
		t.Fatalf("tampered callback stored a payment id: %v", *row.RazorpayPaymentID)
	}

	var events int64
	if err := conn.Model(&models.OutboxEvent{}).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 0 {
		t.Fatalf("expected no events, got %d", events)
	}
}

func TestVerifyAuthorizationAndLookup(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	buyerID := uuid.New()
	seedOnlineOrder(t, conn, buyerID, "order_rzp_auth")

	_, err := svc.Verify(ctx, VerifyInput{
		BuyerID:           uuid.New(),
		RazorpayOrderID:   "order_rzp_auth",
		RazorpayPaymentID: "pay_auth_1",
		Signature:         signFor("order_rzp_auth", "pay_auth_1"),
	})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign buyer, got %v", err)
	}

	_, err = svc.Verify(ctx, VerifyInput{
		BuyerID:           buyerID,
		RazorpayOrderID:   "order_rzp_unknown",
		RazorpayPaymentID: "pay_auth_2",
		Signature:         signFor("order_rzp_unknown", "pay_auth_2"),
	})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = svc.Verify(ctx, VerifyInput{BuyerID: buyerID})
	if domainErr := pkgerrors.As(err); domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateIntent(t *testing.T) {
	t.Parallel()

	svc, _, gw := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateIntent(ctx, 64800, "order_1001")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if id != gw.nextID {
		t.Fatalf("expected gateway order id %s, got %s", gw.nextID, id)
	}
	if len(gw.created) != 1 || gw.created[0].AmountCents != 64800 || gw.created[0].Currency != "INR" {
		t.Fatalf("unexpected gateway params: %+v", gw.created)
	}

	gw.createFails = true
	if _, err := svc.CreateIntent(ctx, 100, "order_1002"); err == nil {
		t.Fatal("expected gateway failure to surface")
	}

	if _, err := svc.CreateIntent(ctx, 0, "order_1003"); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}
