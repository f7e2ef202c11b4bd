package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/api/middleware"
	checkoutsvc "github.com/commercekit/checkout-backend/internal/checkout"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
)

type stubCheckoutService struct {
	checkoutsvc.Service

	session *checkoutsvc.Session
	order   *models.Order
	err     error
}

func (s stubCheckoutService) InitiateCheckout(context.Context, string, string) (*checkoutsvc.Session, error) {
	return s.session, s.err
}

func (s stubCheckoutService) ConfirmPayment(context.Context, string, string) (*models.Order, error) {
	return s.order, s.err
}

func TestCheckoutInitiateSuccess(t *testing.T) {
	session := &checkoutsvc.Session{
		CustomerID:      "cust-1",
		ReservationID:   "res_" + uuid.NewString(),
		PaymentIntentID: uuid.New(),
		Totals:          checkoutsvc.Totals{SubtotalCents: 2000, TaxCents: 160, ShippingCents: 999, TotalCents: 3159},
	}
	handler := CheckoutInitiate(stubCheckoutService{session: session}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}

	var envelope struct {
		Data checkoutsvc.Session `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Totals.TotalCents != 3159 {
		t.Fatalf("unexpected totals: %+v", envelope.Data.Totals)
	}
}

func TestCheckoutInitiateUnauthorized(t *testing.T) {
	handler := CheckoutInitiate(stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "checkout requires an authenticated customer")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCheckoutConfirm(t *testing.T) {
	order := &models.Order{ID: uuid.New(), Status: enums.OrderStatusConfirmed, TotalCents: 3159}
	handler := CheckoutConfirm(stubCheckoutService{order: order}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{"source_id": "cnon:card-nonce"}`))
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}

	var envelope struct {
		Data orderResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderID != order.ID || envelope.Data.Status != "confirmed" {
		t.Fatalf("unexpected order payload: %+v", envelope.Data)
	}
}

func TestCheckoutConfirmRequiresSource(t *testing.T) {
	handler := CheckoutConfirm(stubCheckoutService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{}`))
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCheckoutConfirmPaymentFailed(t *testing.T) {
	handler := CheckoutConfirm(stubCheckoutService{err: pkgerrors.New(pkgerrors.CodePaymentFailed, "card declined")}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/confirm", strings.NewReader(`{"source_id": "cnon:bad-card"}`))
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", resp.Code)
	}
}
