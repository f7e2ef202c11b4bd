package orders

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/outbox"
)

const ordersSchemaSQL = `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  subtotal_cents INTEGER NOT NULL,
  tax_cents INTEGER NOT NULL,
  shipping_cents INTEGER NOT NULL,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  payment_intent_id TEXT NOT NULL,
  reservation_id TEXT NOT NULL,
  promo_tokens TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payment_intent_id ON orders (payment_intent_id);
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  line_total_cents INTEGER NOT NULL,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME
);`

type fakeRestorer struct {
	restored map[uuid.UUID]int
}

func (f *fakeRestorer) Restore(_ context.Context, productID uuid.UUID, quantity int) error {
	if f.restored == nil {
		f.restored = map[uuid.UUID]int{}
	}
	f.restored[productID] += quantity
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.Exec(ordersSchemaSQL).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB, restorer *fakeRestorer) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(
		db.NewFromConn(conn),
		NewRepository(conn),
		restorer,
		outbox.NewService(outbox.NewRepository(conn), logg),
		logg,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func createOrder(t *testing.T, conn *gorm.DB, svc Service, customerID string) *models.Order {
	t.Helper()
	var order *models.Order
	err := db.NewFromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		order, err = svc.CreateFromCheckout(context.Background(), tx, CreateFromCheckoutInput{
			CustomerID:      customerID,
			SubtotalCents:   2000,
			TaxCents:        160,
			ShippingCents:   999,
			TotalCents:      3159,
			PaymentIntentID: uuid.NewString(),
			ReservationID:   "res_" + uuid.NewString(),
			Items: []LineInput{
				{ProductID: uuid.New(), Name: "widget", Quantity: 2, UnitPriceCents: 1000},
			},
		})
		return err
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateFromCheckout(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, &fakeRestorer{})
	ctx := context.Background()

	order := createOrder(t, conn, svc, "cust-1")
	if order.Status != enums.OrderStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", order.Status)
	}

	stored, err := svc.GetOrder(ctx, order.ID, "cust-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].LineTotalCents != 2000 {
		t.Fatalf("unexpected items: %+v", stored.Items)
	}

	var events []models.OutboxEvent
	if err := conn.Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected one order.created event, got %+v", events)
	}

	if _, err := svc.GetOrder(ctx, order.ID, "someone-else"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for foreign customer, got %v", err)
	}

	has, err := svc.HasPriorOrders(ctx, "cust-1")
	if err != nil || !has {
		t.Fatalf("expected prior orders, got %v err=%v", has, err)
	}
	has, err = svc.HasPriorOrders(ctx, "cust-2")
	if err != nil || has {
		t.Fatalf("expected no prior orders, got %v err=%v", has, err)
	}
}

func TestCreateFromCheckoutDuplicateIntent(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn, &fakeRestorer{})
	ctx := context.Background()

	intentID := uuid.NewString()
	create := func() error {
		return db.NewFromConn(conn).WithTx(ctx, func(tx *gorm.DB) error {
			_, err := svc.CreateFromCheckout(ctx, tx, CreateFromCheckoutInput{
				CustomerID:      "cust-1",
				SubtotalCents:   2000,
				TotalCents:      2000,
				PaymentIntentID: intentID,
				ReservationID:   "res_" + uuid.NewString(),
				Items:           []LineInput{{ProductID: uuid.New(), Name: "widget", Quantity: 1, UnitPriceCents: 2000}},
			})
			return err
		})
	}

	if err := create(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := create(); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict on duplicate payment intent, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	restorer := &fakeRestorer{}
	svc := newTestService(t, conn, restorer)
	ctx := context.Background()

	order := createOrder(t, conn, svc, "cust-1")

	cancelled, err := svc.CancelOrder(ctx, order.ID, "cust-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if restorer.restored[order.Items[0].ProductID] != 2 {
		t.Fatalf("expected 2 units restored, got %+v", restorer.restored)
	}

	if _, err := svc.CancelOrder(ctx, order.ID, "cust-1"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict on double cancel, got %v", err)
	}

	var events int64
	if err := conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCancelled).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one order.cancelled event, got %d", events)
	}
}
