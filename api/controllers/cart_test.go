package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/api/middleware"
	cartsvc "github.com/commercekit/checkout-backend/internal/cart"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
)

type stubCartService struct {
	cartsvc.Service

	cart   *cartsvc.Cart
	issues []cartsvc.Issue
	err    error
}

func (s stubCartService) GetOrCreateCart(context.Context, string, string) (*cartsvc.Cart, error) {
	return s.cart, s.err
}

func (s stubCartService) AddItem(context.Context, string, string, uuid.UUID, int) (*cartsvc.Cart, error) {
	return s.cart, s.err
}

func (s stubCartService) ValidateCartItems(context.Context, string, string) ([]cartsvc.Issue, error) {
	return s.issues, s.err
}

func TestCartFetchSuccess(t *testing.T) {
	now := time.Now().UTC()
	cart := &cartsvc.Cart{
		ID:         "cust-1",
		CustomerID: "cust-1",
		Items:      []cartsvc.Item{{ProductID: uuid.New(), Name: "widget", PriceCents: 500, Quantity: 2, AddedAt: now}},
		UpdatedAt:  now,
	}
	handler := CartFetch(stubCartService{cart: cart}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data cartResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID != "cust-1" || len(envelope.Data.Items) != 1 {
		t.Fatalf("unexpected response: %+v", envelope.Data)
	}
}

func TestCartFetchRejectsMalformedAnonymousID(t *testing.T) {
	handler := CartFetch(stubCartService{err: pkgerrors.New(pkgerrors.CodeValidation, "invalid cart id")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req = req.WithContext(middleware.WithCartID(req.Context(), "cart_foo"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddItemValidation(t *testing.T) {
	handler := CartAddItem(stubCartService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"quantity": 0}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCartAddItemInsufficientStock(t *testing.T) {
	err := pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(pkgerrors.StockShortfall{Requested: 5, Available: 2})
	handler := CartAddItem(stubCartService{err: err}, nil)

	body := `{"product_id": "` + uuid.NewString() + `", "quantity": 5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body))
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Details struct {
				Requested int `json:"requested"`
				Available int `json:"available"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != "INSUFFICIENT_STOCK" || envelope.Error.Details.Available != 2 {
		t.Fatalf("unexpected error payload: %+v", envelope.Error)
	}
}

func TestCartValidateReportsIssues(t *testing.T) {
	issues := []cartsvc.Issue{{ProductID: uuid.New(), Code: "PRICE_CHANGED", Message: "price changed"}}
	handler := CartValidate(stubCartService{issues: issues}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/validate", nil)
	req = req.WithContext(middleware.WithCustomerID(req.Context(), "cust-1"))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data struct {
			Valid  bool            `json:"valid"`
			Issues []cartsvc.Issue `json:"issues"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Valid || len(envelope.Data.Issues) != 1 {
		t.Fatalf("unexpected payload: %+v", envelope.Data)
	}
}
