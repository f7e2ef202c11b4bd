package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/internal/cart"
	"github.com/commercekit/checkout-backend/internal/orders"
	"github.com/commercekit/checkout-backend/internal/payments"
	"github.com/commercekit/checkout-backend/internal/reservation"
	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

// Summary is the priced preview shown before a checkout is initiated. Valid
// reports whether the cart could be checked out as-is: at least one item and
// no outstanding validation issues.
type Summary struct {
	Totals     Totals       `json:"totals"`
	FirstOrder bool         `json:"first_order"`
	Items      []cart.Item  `json:"items"`
	Valid      bool         `json:"valid"`
	Issues     []cart.Issue `json:"issues"`
}

// Service orchestrates the checkout flow: validate the cart, hold the stock,
// open a payment intent, and on confirmation convert the hold into an order.
type Service interface {
	GetCheckoutSummary(ctx context.Context, customerID, cartID string) (*Summary, error)
	InitiateCheckout(ctx context.Context, customerID, cartID string) (*Session, error)
	ConfirmPayment(ctx context.Context, customerID, sourceID string) (*models.Order, error)
	CancelCheckout(ctx context.Context, customerID string) error
}

type service struct {
	client         *db.Client
	carts          cart.Service
	holds          reservation.Service
	payments       payments.Service
	orders         orders.Service
	sessions       *SessionStore
	pricer         *Pricer
	logg           *logger.Logger
	reservationTTL time.Duration
}

// NewService wires the checkout orchestrator.
func NewService(
	client *db.Client,
	carts cart.Service,
	holds reservation.Service,
	paymentSvc payments.Service,
	orderSvc orders.Service,
	sessions *SessionStore,
	pricer *Pricer,
	logg *logger.Logger,
	reservationTTL time.Duration,
) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart service is required")
	}
	if holds == nil {
		return nil, fmt.Errorf("reservation service is required")
	}
	if paymentSvc == nil {
		return nil, fmt.Errorf("payments service is required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("orders service is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if pricer == nil {
		return nil, fmt.Errorf("pricer is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{
		client:         client,
		carts:          carts,
		holds:          holds,
		payments:       paymentSvc,
		orders:         orderSvc,
		sessions:       sessions,
		pricer:         pricer,
		logg:           logg,
		reservationTTL: reservationTTL,
	}, nil
}

func (s *service) GetCheckoutSummary(ctx context.Context, customerID, cartID string) (*Summary, error) {
	loaded, firstOrder, err := s.loadPriceableCart(ctx, customerID, cartID)
	if err != nil {
		return nil, err
	}
	issues, err := s.carts.ValidateCartItems(ctx, customerID, cartID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Totals:     s.pricer.Price(loaded.Items, firstOrder),
		FirstOrder: firstOrder,
		Items:      loaded.Items,
		Valid:      len(issues) == 0 && len(loaded.Items) > 0,
		Issues:     issues,
	}, nil
}

// InitiateCheckout validates the cart, reserves its stock, opens a payment
// intent, and stores the session. Any failure after the hold is placed
// releases it before returning.
func (s *service) InitiateCheckout(ctx context.Context, customerID, cartID string) (*Session, error) {
	if existing, err := s.sessions.Load(ctx, customerID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a checkout is already in progress").
			WithDetails(map[string]string{"reservation_id": existing.ReservationID})
	}

	loaded, firstOrder, err := s.loadPriceableCart(ctx, customerID, cartID)
	if err != nil {
		return nil, err
	}

	issues, err := s.carts.ValidateCartItems(ctx, customerID, cartID)
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has unresolved issues").
			WithDetails(issues)
	}

	lines := make([]reservation.Line, 0, len(loaded.Items))
	sessionLines := make([]SessionLine, 0, len(loaded.Items))
	for _, item := range loaded.Items {
		lines = append(lines, reservation.Line{ProductID: item.ProductID, Quantity: item.Quantity})
		sessionLines = append(sessionLines, SessionLine{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.PriceCents,
		})
	}

	hold, err := s.holds.Reserve(ctx, reservation.ReserveInput{
		CustomerID: customerID,
		Lines:      lines,
		TTL:        s.reservationTTL,
	})
	if err != nil {
		return nil, err
	}

	totals := s.pricer.Price(loaded.Items, firstOrder)
	intent, err := s.payments.CreateIntent(ctx, payments.CreateIntentInput{
		CustomerID:    customerID,
		AmountCents:   totals.TotalCents,
		ReservationID: hold.ReservationID,
		Note:          totalsNote(hold.ReservationID, totals),
	})
	if err != nil {
		s.rollbackHold(ctx, hold.ReservationID)
		return nil, err
	}

	now := time.Now().UTC()
	session := &Session{
		CustomerID:      customerID,
		CartID:          loaded.ID,
		ReservationID:   hold.ReservationID,
		PaymentIntentID: intent.ID,
		Totals:          totals,
		Lines:           sessionLines,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.sessions.TTL()),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		s.rollbackHold(ctx, hold.ReservationID)
		if _, cancelErr := s.payments.CancelIntent(ctx, intent.ID); cancelErr != nil {
			s.logg.Error(ctx, "cancelling orphaned payment intent", cancelErr)
		}
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"customer_id":    customerID,
		"reservation_id": hold.ReservationID,
		"total_cents":    totals.TotalCents,
	})
	s.logg.Info(logCtx, "checkout initiated")
	return session, nil
}

// ConfirmPayment charges the session's intent and, in one transaction, writes
// the order and converts the hold. A declined charge leaves the session in
// place so the customer can retry with another payment source.
func (s *service) ConfirmPayment(ctx context.Context, customerID, sourceID string) (*models.Order, error) {
	session, err := s.sessions.Load(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active checkout session")
	}

	if _, err := s.payments.ConfirmIntent(ctx, session.PaymentIntentID, sourceID); err != nil {
		return nil, err
	}

	items := make([]orders.LineInput, 0, len(session.Lines))
	for _, line := range session.Lines {
		items = append(items, orders.LineInput{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	var order *models.Order
	err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		order, txErr = s.orders.CreateFromCheckout(ctx, tx, orders.CreateFromCheckoutInput{
			CustomerID:      customerID,
			SubtotalCents:   session.Totals.SubtotalCents,
			TaxCents:        session.Totals.TaxCents,
			ShippingCents:   session.Totals.ShippingCents,
			DiscountCents:   session.Totals.DiscountCents,
			TotalCents:      session.Totals.TotalCents,
			PaymentIntentID: session.PaymentIntentID.String(),
			ReservationID:   session.ReservationID,
			Items:           items,
		})
		if txErr != nil {
			return txErr
		}
		return s.holds.ConvertToOrder(ctx, tx, session.ReservationID, order.ID)
	})
	if err != nil {
		// The charge went through but the order did not land. Surface loudly;
		// reconciliation needs the intent id.
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"customer_id":       customerID,
			"payment_intent_id": session.PaymentIntentID.String(),
			"reservation_id":    session.ReservationID,
		})
		s.logg.Error(logCtx, "order creation failed after capture", err)
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalizing order")
	}

	if _, err := s.carts.ClearCart(ctx, customerID, session.CartID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "customer_id", customerID), "clearing cart after checkout")
	}
	if err := s.sessions.Delete(ctx, customerID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "customer_id", customerID), "deleting checkout session")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"customer_id": customerID,
		"order_id":    order.ID.String(),
	})
	s.logg.Info(logCtx, "checkout confirmed")
	return order, nil
}

// CancelCheckout voids the intent, releases the hold, and drops the session.
func (s *service) CancelCheckout(ctx context.Context, customerID string) error {
	session, err := s.sessions.Load(ctx, customerID)
	if err != nil {
		return err
	}
	if session == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active checkout session")
	}

	if _, err := s.payments.CancelIntent(ctx, session.PaymentIntentID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			return err
		}
		s.logg.Error(ctx, "cancelling payment intent", err)
	}
	if _, err := s.holds.Release(ctx, session.ReservationID); err != nil {
		s.logg.Error(ctx, "releasing reservation", err)
	}
	if err := s.sessions.Delete(ctx, customerID); err != nil {
		return err
	}

	logCtx := s.logg.WithField(ctx, "customer_id", customerID)
	s.logg.Info(logCtx, "checkout cancelled")
	return nil
}

func (s *service) loadPriceableCart(ctx context.Context, customerID, cartID string) (*cart.Cart, bool, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeUnauthorized, "checkout requires an authenticated customer")
	}
	loaded, err := s.carts.GetCart(ctx, customerID, cartID)
	if err != nil {
		return nil, false, err
	}
	if len(loaded.Items) == 0 {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	prior, err := s.orders.HasPriorOrders(ctx, customerID)
	if err != nil {
		return nil, false, err
	}
	return loaded, !prior, nil
}

// totalsNote renders the totals breakdown the payment provider carries for
// reconciliation.
func totalsNote(reservationID string, totals Totals) string {
	return fmt.Sprintf(
		"%s subtotal=%d tax=%d shipping=%d discount=%d total=%d",
		reservationID,
		totals.SubtotalCents,
		totals.TaxCents,
		totals.ShippingCents,
		totals.DiscountCents,
		totals.TotalCents,
	)
}

func (s *service) rollbackHold(ctx context.Context, reservationID string) {
	if _, err := s.holds.Release(ctx, reservationID); err != nil {
		logCtx := s.logg.WithField(ctx, "reservation_id", reservationID)
		s.logg.Error(logCtx, "releasing reservation after failed initiation", err)
	}
}
