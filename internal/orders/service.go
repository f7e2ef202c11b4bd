package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/outbox"
)

// stockRestorer returns cancelled stock to the ledger.
type stockRestorer interface {
	Restore(ctx context.Context, productID uuid.UUID, quantity int) error
}

// LineInput snapshots one purchased line.
type LineInput struct {
	ProductID      uuid.UUID
	Name           string
	Quantity       int
	UnitPriceCents int
}

// CreateFromCheckoutInput carries everything a confirmed checkout produced.
type CreateFromCheckoutInput struct {
	CustomerID      string
	SubtotalCents   int
	TaxCents        int
	ShippingCents   int
	DiscountCents   int
	TotalCents      int
	Currency        string
	PaymentIntentID string
	ReservationID   string
	PromoTokens     []string
	Items           []LineInput
}

// Service exposes order management.
type Service interface {
	CreateFromCheckout(ctx context.Context, tx *gorm.DB, input CreateFromCheckoutInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*models.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]models.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*models.Order, error)
	HasPriorOrders(ctx context.Context, customerID string) (bool, error)
}

type service struct {
	client *db.Client
	repo   *Repository
	stock  stockRestorer
	events *outbox.Service
	logg   *logger.Logger
}

// NewService wires the orders service.
func NewService(client *db.Client, repo *Repository, stock stockRestorer, events *outbox.Service, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock restorer is required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{client: client, repo: repo, stock: stock, events: events, logg: logg}, nil
}

type orderEventPayload struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	TotalCents int       `json:"total_cents"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CreateFromCheckout persists the confirmed order and queues its domain event
// inside the caller's transaction.
func (s *service) CreateFromCheckout(ctx context.Context, tx *gorm.DB, input CreateFromCheckoutInput) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	order := &models.Order{
		ID:              uuid.New(),
		CustomerID:      input.CustomerID,
		Status:          enums.OrderStatusConfirmed,
		SubtotalCents:   input.SubtotalCents,
		TaxCents:        input.TaxCents,
		ShippingCents:   input.ShippingCents,
		DiscountCents:   input.DiscountCents,
		TotalCents:      input.TotalCents,
		Currency:        currencyOrDefault(input.Currency),
		PaymentIntentID: input.PaymentIntentID,
		ReservationID:   input.ReservationID,
		PromoTokens:     pq.StringArray(input.PromoTokens),
	}
	for _, item := range input.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.UnitPriceCents * item.Quantity,
		})
	}

	if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
		if db.IsUniqueViolation(err, "idx_orders_payment_intent_id") {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "an order already exists for this payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}

	err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID.String(),
		Version:       1,
		Data: orderEventPayload{
			OrderID:    order.ID.String(),
			CustomerID: order.CustomerID,
			TotalCents: order.TotalCents,
			Currency:   order.Currency,
			OccurredAt: time.Now().UTC(),
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queueing order event")
	}

	return order, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*models.Order, error) {
	order, err := s.repo.FindByIDAndCustomer(ctx, orderID, customerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	rows, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return rows, nil
}

// CancelOrder flips a confirmed order to cancelled, returns its stock to the
// ledger, and queues the cancellation event.
func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only confirmed orders can be cancelled").
			WithDetails(map[string]string{"status": string(order.Status)})
	}

	err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateStatus(ctx, order.ID, enums.OrderStatusCancelled); err != nil {
			return err
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID.String(),
			Version:       1,
			Data: orderEventPayload{
				OrderID:    order.ID.String(),
				CustomerID: order.CustomerID,
				TotalCents: order.TotalCents,
				Currency:   order.Currency,
				OccurredAt: time.Now().UTC(),
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling order")
	}

	// Stock restoration is best effort per line; a partial failure leaves the
	// rest of the restock to manual reconciliation.
	for _, item := range order.Items {
		if err := s.stock.Restore(ctx, item.ProductID, item.Quantity); err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"product_id": item.ProductID.String(),
			})
			s.logg.Error(logCtx, "restoring cancelled stock", err)
		}
	}

	order.Status = enums.OrderStatusCancelled
	logCtx := s.logg.WithField(ctx, "order_id", order.ID.String())
	s.logg.Info(logCtx, "order cancelled")
	return order, nil
}

func (s *service) HasPriorOrders(ctx context.Context, customerID string) (bool, error) {
	count, err := s.repo.CountByCustomer(ctx, customerID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "counting orders")
	}
	return count > 0, nil
}

func currencyOrDefault(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "USD"
	}
	return trimmed
}
