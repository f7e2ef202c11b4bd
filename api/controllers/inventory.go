package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/api/responses"
	"github.com/commercekit/checkout-backend/api/validators"
	inventorysvc "github.com/commercekit/checkout-backend/internal/inventory"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

// InventoryStatus returns the ledger view for one product.
func InventoryStatus(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		status, err := svc.GetStatus(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// InventoryAvailability answers whether the requested quantity could be
// reserved right now. Quantity arrives as a query parameter, defaulting to 1.
func InventoryAvailability(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}

		quantity := 1
		if raw := r.URL.Query().Get("quantity"); raw != "" {
			quantity, err = strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid quantity"))
				return
			}
		}

		availability, err := svc.CheckAvailability(r.Context(), productID, quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availability)
	}
}

type batchStatusRequest struct {
	ProductIDs []uuid.UUID `json:"product_ids" validate:"required,min=1,max=100"`
}

func InventoryBatchStatus(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload batchStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		statuses, err := svc.GetBatchStatus(r.Context(), payload.ProductIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, statuses)
	}
}

type updateInventoryRequest struct {
	Quantity          *int  `json:"quantity" validate:"omitempty,min=0"`
	TrackQuantity     *bool `json:"track_quantity"`
	LowStockThreshold *int  `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

type batchUpdateLine struct {
	ProductID         uuid.UUID `json:"product_id" validate:"required"`
	Quantity          *int      `json:"quantity" validate:"omitempty,min=0"`
	TrackQuantity     *bool     `json:"track_quantity"`
	LowStockThreshold *int      `json:"low_stock_threshold" validate:"omitempty,min=0"`
}

type batchUpdateRequest struct {
	Updates []batchUpdateLine `json:"updates" validate:"required,min=1,max=100,dive"`
}

// InventoryBatchUpdate applies independent ledger updates; partial failures
// come back alongside the applied statuses.
func InventoryBatchUpdate(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload batchUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inputs := make([]inventorysvc.UpdateInput, 0, len(payload.Updates))
		for _, line := range payload.Updates {
			inputs = append(inputs, inventorysvc.UpdateInput{
				ProductID:         line.ProductID,
				Quantity:          line.Quantity,
				TrackQuantity:     line.TrackQuantity,
				LowStockThreshold: line.LowStockThreshold,
			})
		}

		statuses, failures, err := svc.BatchUpdate(r.Context(), inputs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"statuses": statuses,
			"failures": failures,
		})
	}
}

// InventoryUpdate upserts a product's ledger record.
func InventoryUpdate(svc inventorysvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid product id"))
			return
		}
		var payload updateInventoryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.UpdateInventory(r.Context(), inventorysvc.UpdateInput{
			ProductID:         productID,
			Quantity:          payload.Quantity,
			TrackQuantity:     payload.TrackQuantity,
			LowStockThreshold: payload.LowStockThreshold,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
