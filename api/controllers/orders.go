package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arjunmehta-dev/threadmart-backend/api/middleware"
	"github.com/arjunmehta-dev/threadmart-backend/api/responses"
	"github.com/arjunmehta-dev/threadmart-backend/api/validators"
	ordersvc "github.com/arjunmehta-dev/threadmart-backend/internal/orders"
	paymentsvc "github.com/arjunmehta-dev/threadmart-backend/internal/payments"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/enums"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/logger"
)

type buyNowPayload struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Color     string    `json:"color" validate:"required"`
	Size      string    `json:"size" validate:"required"`
	Qty       int       `json:"qty" validate:"required,min=1"`
}

type checkoutRequest struct {
	Source           string         `json:"source" validate:"required,oneof=cart buy_now"`
	PaymentMethod    string         `json:"payment_method" validate:"required,oneof=cod online"`
	BuyNow           *buyNowPayload `json:"buy_now,omitempty"`
	AddressID        *uuid.UUID     `json:"address_id,omitempty"`
	ClientTotalCents *int           `json:"total_cents,omitempty"`
}

func (p checkoutRequest) toInput(buyerID uuid.UUID) ordersvc.CheckoutInput {
	input := ordersvc.CheckoutInput{
		BuyerID:          buyerID,
		Source:           enums.OrderSource(p.Source),
		PaymentMethod:    enums.PaymentMethod(p.PaymentMethod),
		AddressID:        p.AddressID,
		ClientTotalCents: p.ClientTotalCents,
	}
	if p.BuyNow != nil {
		input.BuyNow = &ordersvc.BuyNowInput{
			ProductID: p.BuyNow.ProductID,
			Color:     p.BuyNow.Color,
			Size:      p.BuyNow.Size,
			Qty:       p.BuyNow.Qty,
		}
	}
	return input
}

// OrdersCreate places an order from the cart or a buy-now line.
func OrdersCreate(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Create(r.Context(), payload.toInput(userID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// OrdersList pages through the caller's orders. Buyers see their purchases,
// sellers the orders carrying their lines, admins everything.
func OrdersList(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.List(r.Context(), ordersvc.ListInput{
			UserID:     userID,
			Role:       role,
			Pagination: params,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// OrderDetail returns the full order for its buyer, a selling seller, or an admin.
func OrderDetail(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Detail(r.Context(), userID, role, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// OrderCancel lets the buyer abandon a pre-shipment order.
func OrderCancel(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Cancel(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

type statusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=processing shipped delivered cancelled"`
}

// SellerOrderStatus moves an order along the lifecycle on behalf of a seller.
func SellerOrderStatus(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload statusUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.UpdateStatus(r.Context(), userID, orderID, enums.OrderStatus(payload.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// OrderTrack renders the buyer-facing tracking timeline.
func OrderTrack(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Track(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

type verifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id" validate:"required"`
	RazorpayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	RazorpaySignature string `json:"razorpay_signature" validate:"required"`
}

// VerifyPayment settles an online order from the signed gateway callback.
func VerifyPayment(svc paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.Actor(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Verify(r.Context(), paymentsvc.VerifyInput{
			BuyerID:           userID,
			RazorpayOrderID:   payload.RazorpayOrderID,
			RazorpayPaymentID: payload.RazorpayPaymentID,
			Signature:         payload.RazorpaySignature,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id")
	}
	return orderID, nil
}
