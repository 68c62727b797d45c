package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/internal/notifications"
	"github.com/arjunmehta-dev/threadmart-backend/internal/orders"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/outbox/payloads"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/razorpay"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/realtime"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	NotifyAll(ctx context.Context, inputs []notifications.Input)
}

// gateway is the slice of the Razorpay client the verifier needs.
type gateway interface {
	CreateOrder(ctx context.Context, params razorpay.OrderParams) (*razorpay.Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// VerifyInput carries the gateway callback fields the client relays after a
// successful Razorpay checkout.
type VerifyInput struct {
	BuyerID           uuid.UUID
	RazorpayOrderID   string
	RazorpayPaymentID string
	Signature         string
}

// VerifyResult reports the order state after settlement.
type VerifyResult struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   int64               `json:"order_number"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
}

// Service opens gateway orders for online checkouts and settles them once
// the client relays the signed callback.
type Service interface {
	CreateIntent(ctx context.Context, amountCents int, receipt string) (string, error)
	Verify(ctx context.Context, input VerifyInput) (*VerifyResult, error)
}

type service struct {
	orderRepo *orders.Repository
	tx        txRunner
	gateway   gateway
	outbox    outboxPublisher
	notify    notifier
	publisher realtime.Publisher
	logg      *logger.Logger
}

// NewService wires the payment verifier.
func NewService(
	orderRepo *orders.Repository,
	tx txRunner,
	gw gateway,
	outboxSvc outboxPublisher,
	notify notifier,
	publisher realtime.Publisher,
	logg *logger.Logger,
) (Service, error) {
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &service{
		orderRepo: orderRepo,
		tx:        tx,
		gateway:   gw,
		outbox:    outboxSvc,
		notify:    notify,
		publisher: publisher,
		logg:      logg,
	}, nil
}

// CreateIntent opens a Razorpay order for the amount. Checkout calls this
// before persisting the local order; a gateway failure aborts the whole
// transaction.
func (s *service) CreateIntent(ctx context.Context, amountCents int, receipt string) (string, error) {
	if amountCents <= 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	gatewayOrder, err := s.gateway.CreateOrder(ctx, razorpay.OrderParams{
		AmountCents: amountCents,
		Currency:    "INR",
		Receipt:     receipt,
	})
	if err != nil {
		return "", err
	}
	return gatewayOrder.ID, nil
}

// Verify recomputes the callback signature and, on a match, settles the
// order: paymentStatus paid and status processing flip in one transaction
// with the payment.settled event. A bad signature mutates nothing and the
// caller learns only that the signature was invalid.
func (s *service) Verify(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	if err := validateVerifyInput(input); err != nil {
		return nil, err
	}

	if !s.gateway.VerifySignature(input.RazorpayOrderID, input.RazorpayPaymentID, input.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid payment signature")
	}

	var result *VerifyResult
	var settledOrderID uuid.UUID
	var buyerID uuid.UUID
	var orderNumber int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.FindByRazorpayOrderID(ctx, input.RazorpayOrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another buyer")
		}

		// Replayed callback for an order this payment already settled.
		if order.PaymentStatus == enums.PaymentStatusPaid {
			if order.RazorpayPaymentID != nil && *order.RazorpayPaymentID == input.RazorpayPaymentID {
				result = &VerifyResult{
					OrderID:       order.ID,
					OrderNumber:   order.OrderNumber,
					Status:        order.Status,
					PaymentStatus: order.PaymentStatus,
				}
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already settled")
		}
		if order.PaymentStatus != enums.PaymentStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not verifiable")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already moved past pending")
		}

		fields := map[string]any{
			"payment_status":      enums.PaymentStatusPaid,
			"status":              enums.OrderStatusProcessing,
			"razorpay_payment_id": input.RazorpayPaymentID,
		}
		if err := repo.UpdateFields(ctx, order.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment")
		}

		err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: enums.RoleBuyer.String()},
			Data: payloads.PaymentSettledEvent{
				OrderID:           order.ID,
				OrderNumber:       order.OrderNumber,
				RazorpayOrderID:   input.RazorpayOrderID,
				RazorpayPaymentID: input.RazorpayPaymentID,
				AmountCents:       order.TotalCents,
			},
			Version: 1,
		})
		if err != nil {
			return err
		}

		settledOrderID = order.ID
		buyerID = order.BuyerID
		orderNumber = order.OrderNumber
		result = &VerifyResult{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			Status:        enums.OrderStatusProcessing,
			PaymentStatus: enums.PaymentStatusPaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settledOrderID != uuid.Nil {
		s.afterSettle(ctx, settledOrderID, buyerID, orderNumber)
	}
	return result, nil
}

// afterSettle fans out the committed settlement. Best effort only.
func (s *service) afterSettle(ctx context.Context, orderID, buyerID uuid.UUID, orderNumber int64) {
	if s.notify != nil {
		s.notify.NotifyAll(ctx, []notifications.Input{{
			UserID:  buyerID,
			Role:    enums.RoleBuyer,
			Type:    enums.NotificationTypePayment,
			Message: fmt.Sprintf("Payment received for order #%d", orderNumber),
			OrderID: &orderID,
		}})
	}
	err := s.publisher.Publish(ctx, realtime.OrderTopic(orderID), "order-updated", map[string]any{
		"order_id":       orderID,
		"status":         enums.OrderStatusProcessing,
		"payment_status": enums.PaymentStatusPaid,
	})
	if err != nil && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String()})
		s.logg.Error(logCtx, "realtime publish dropped", err)
	}
}

func validateVerifyInput(input VerifyInput) error {
	if input.BuyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	for _, field := range []string{input.RazorpayOrderID, input.RazorpayPaymentID, input.Signature} {
		if strings.TrimSpace(field) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "order id, payment id, and signature are required")
		}
	}
	return nil
}
