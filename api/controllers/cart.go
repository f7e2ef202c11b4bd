package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/api/middleware"
	"github.com/commercekit/checkout-backend/api/responses"
	"github.com/commercekit/checkout-backend/api/validators"
	cartsvc "github.com/commercekit/checkout-backend/internal/cart"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

type cartItemResponse struct {
	ProductID  uuid.UUID `json:"product_id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	AddedAt    time.Time `json:"added_at"`
}

type cartResponse struct {
	ID        string             `json:"id"`
	Items     []cartItemResponse `json:"items"`
	Issues    []cartsvc.Issue    `json:"issues,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newCartResponse(cart *cartsvc.Cart, issues []cartsvc.Issue) cartResponse {
	if cart == nil {
		return cartResponse{Items: []cartItemResponse{}, Issues: issues}
	}
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResponse{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceCents: item.PriceCents,
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt,
		})
	}
	return cartResponse{
		ID:        cart.ID,
		Items:     items,
		Issues:    issues,
		UpdatedAt: cart.UpdatedAt,
	}
}

func identityFromRequest(r *http.Request) (string, string) {
	return middleware.CustomerIDFromContext(r.Context()), middleware.CartIDFromContext(r.Context())
}

// CartFetch returns the caller's cart, creating it on first touch.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		cart, err := svc.GetOrCreateCart(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, nil))
	}
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required,uuid4"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, cartID := identityFromRequest(r)
		cart, err := svc.AddItem(r.Context(), customerID, cartID, payload.ProductID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, nil))
	}
}

type bulkItemsRequest struct {
	Items []addItemRequest `json:"items" validate:"required,min=1,dive"`
}

func CartAddBulkItems(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload bulkItemsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]cartsvc.BulkLine, 0, len(payload.Items))
		for _, item := range payload.Items {
			lines = append(lines, cartsvc.BulkLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		customerID, cartID := identityFromRequest(r)
		cart, issues, err := svc.AddBulkItems(r.Context(), customerID, cartID, lines)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, issues))
	}
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

func CartUpdateItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}
		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, cartID := identityFromRequest(r)
		cart, err := svc.UpdateItemQuantity(r.Context(), customerID, cartID, productID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, nil))
	}
}

func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		customerID, cartID := identityFromRequest(r)
		cart, err := svc.RemoveItem(r.Context(), customerID, cartID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, nil))
	}
}

func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		cart, err := svc.ClearCart(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, nil))
	}
}

// CartValidate reconciles the cart against live product and stock data
// without mutating it.
func CartValidate(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		issues, err := svc.ValidateCartItems(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if issues == nil {
			issues = []cartsvc.Issue{}
		}
		responses.WriteSuccess(w, map[string]any{"valid": len(issues) == 0, "issues": issues})
	}
}

type mergeCartRequest struct {
	AnonymousCartID string `json:"anonymous_cart_id" validate:"required"`
}

func CartMerge(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload mergeCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID := middleware.CustomerIDFromContext(r.Context())
		cart, issues, err := svc.MergeAnonymousCart(r.Context(), customerID, payload.AnonymousCartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart, issues))
	}
}

type extendCartRequest struct {
	Seconds int `json:"seconds" validate:"required,min=1"`
}

func CartExtend(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload extendCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customerID, cartID := identityFromRequest(r)
		ttl, err := svc.ExtendCartExpiration(r.Context(), customerID, cartID, payload.Seconds)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"expires_in_seconds": int(ttl.Seconds())})
	}
}

func CartExpiration(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, cartID := identityFromRequest(r)
		ttl, err := svc.GetCartExpiration(r.Context(), customerID, cartID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"expires_in_seconds": int(ttl.Seconds())})
	}
}
