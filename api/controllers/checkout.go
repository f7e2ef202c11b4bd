package controllers

import (
	"net/http"

	"github.com/commercekit/checkout-backend/api/middleware"
	"github.com/commercekit/checkout-backend/api/responses"
	"github.com/commercekit/checkout-backend/api/validators"
	checkoutsvc "github.com/commercekit/checkout-backend/internal/checkout"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

// CheckoutSummary returns the priced preview of the caller's cart.
func CheckoutSummary(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		summary, err := svc.GetCheckoutSummary(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// CheckoutInitiate validates the cart, holds its stock, and opens a payment
// intent.
func CheckoutInitiate(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		session, err := svc.InitiateCheckout(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

type confirmPaymentRequest struct {
	SourceID string `json:"source_id" validate:"required"`
}

// CheckoutConfirm charges the session's payment intent and finalizes the
// order.
func CheckoutConfirm(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID := middleware.CustomerIDFromContext(r.Context())
		order, err := svc.ConfirmPayment(r.Context(), customerID, payload.SourceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// CheckoutCancel voids the in-flight checkout and releases its hold.
func CheckoutCancel(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID := middleware.CustomerIDFromContext(r.Context())
		if err := svc.CancelCheckout(r.Context(), customerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}
