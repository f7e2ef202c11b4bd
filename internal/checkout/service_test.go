package checkout

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/internal/cart"
	"github.com/commercekit/checkout-backend/internal/orders"
	"github.com/commercekit/checkout-backend/internal/payments"
	"github.com/commercekit/checkout-backend/internal/reservation"
	"github.com/commercekit/checkout-backend/pkg/config"
	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
	"github.com/commercekit/checkout-backend/pkg/redis/redistest"
)

type fakeCartService struct {
	cart.Service

	cart    *cart.Cart
	issues  []cart.Issue
	cleared bool
}

func (f *fakeCartService) GetCart(context.Context, string, string) (*cart.Cart, error) {
	if f.cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return f.cart, nil
}

func (f *fakeCartService) ValidateCartItems(context.Context, string, string) ([]cart.Issue, error) {
	return f.issues, nil
}

func (f *fakeCartService) ClearCart(context.Context, string, string) (*cart.Cart, error) {
	f.cleared = true
	return &cart.Cart{Items: []cart.Item{}}, nil
}

type fakeReservations struct {
	reservation.Service

	reserveErr error
	convertErr error
	reserved   []reservation.ReserveInput
	released   []string
	converted  []string
}

func (f *fakeReservations) Reserve(_ context.Context, input reservation.ReserveInput) (*reservation.Hold, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved = append(f.reserved, input)
	return &reservation.Hold{
		ReservationID: "res_" + uuid.NewString(),
		CustomerID:    input.CustomerID,
		ExpiresAt:     time.Now().UTC().Add(input.TTL),
		Lines:         input.Lines,
	}, nil
}

func (f *fakeReservations) Release(_ context.Context, reservationID string) (int, error) {
	f.released = append(f.released, reservationID)
	return 1, nil
}

func (f *fakeReservations) ConvertToOrder(_ context.Context, tx *gorm.DB, reservationID string, _ uuid.UUID) error {
	if f.convertErr != nil {
		return f.convertErr
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	f.converted = append(f.converted, reservationID)
	return nil
}

type fakePayments struct {
	payments.Service

	createErr  error
	confirmErr error
	intents    map[uuid.UUID]*models.PaymentIntent
	cancelled  []uuid.UUID
}

func (f *fakePayments) CreateIntent(_ context.Context, input payments.CreateIntentInput) (*models.PaymentIntent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	intent := &models.PaymentIntent{
		ID:          uuid.New(),
		CustomerID:  input.CustomerID,
		AmountCents: input.AmountCents,
		Currency:    "USD",
		Status:      enums.PaymentStatusPending,
	}
	if input.ReservationID != "" {
		reservationID := input.ReservationID
		intent.ReservationID = &reservationID
	}
	if input.Note != "" {
		note := input.Note
		intent.Note = &note
	}
	if f.intents == nil {
		f.intents = map[uuid.UUID]*models.PaymentIntent{}
	}
	f.intents[intent.ID] = intent
	return intent, nil
}

func (f *fakePayments) ConfirmIntent(_ context.Context, id uuid.UUID, _ string) (*models.PaymentIntent, error) {
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	intent := f.intents[id]
	intent.Status = enums.PaymentStatusSucceeded
	return intent, nil
}

func (f *fakePayments) CancelIntent(_ context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	f.cancelled = append(f.cancelled, id)
	if intent, ok := f.intents[id]; ok {
		intent.Status = enums.PaymentStatusCancelled
		return intent, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
}

type fakeOrders struct {
	orders.Service

	prior   bool
	created []orders.CreateFromCheckoutInput
}

func (f *fakeOrders) HasPriorOrders(context.Context, string) (bool, error) {
	return f.prior, nil
}

func (f *fakeOrders) CreateFromCheckout(_ context.Context, tx *gorm.DB, input orders.CreateFromCheckoutInput) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	f.created = append(f.created, input)
	return &models.Order{
		ID:         uuid.New(),
		CustomerID: input.CustomerID,
		Status:     enums.OrderStatusConfirmed,
		TotalCents: input.TotalCents,
	}, nil
}

type testEnv struct {
	svc      Service
	carts    *fakeCartService
	holds    *fakeReservations
	payments *fakePayments
	orders   *fakeOrders
	sessions *SessionStore
}

func twoItemCart(customerID string) *cart.Cart {
	now := time.Now().UTC()
	return &cart.Cart{
		ID:         customerID,
		CustomerID: customerID,
		Items: []cart.Item{
			{ProductID: uuid.New(), Name: "widget", PriceCents: 500, Quantity: 2, AddedAt: now},
			{ProductID: uuid.New(), Name: "gadget", PriceCents: 1000, Quantity: 1, AddedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	sessions, err := NewSessionStore(redis.NewWithStore(redistest.NewStore()), logg, 30*time.Minute)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}

	env := &testEnv{
		carts:    &fakeCartService{cart: twoItemCart("cust-1")},
		holds:    &fakeReservations{},
		payments: &fakePayments{},
		orders:   &fakeOrders{prior: true},
		sessions: sessions,
	}
	env.svc, err = NewService(
		db.NewFromConn(conn),
		env.carts,
		env.holds,
		env.payments,
		env.orders,
		sessions,
		NewPricer(config.CheckoutConfig{
			TaxRateBps:                 800,
			ShippingFlatFeeCents:       999,
			FreeShippingThresholdCents: 10000,
			FirstOrderDiscountBps:      1000,
		}),
		logg,
		30*time.Minute,
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return env
}

func TestGetCheckoutSummary(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// 2x$5.00 + 1x$10.00 = $20.00; 8% tax; under the free-shipping threshold.
	summary, err := env.svc.GetCheckoutSummary(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := Totals{SubtotalCents: 2000, TaxCents: 160, ShippingCents: 999, TotalCents: 3159}
	if summary.Totals != want {
		t.Fatalf("totals = %+v, want %+v", summary.Totals, want)
	}
	if !summary.Valid || len(summary.Issues) != 0 {
		t.Fatalf("expected a valid summary, got valid=%v issues=%+v", summary.Valid, summary.Issues)
	}

	env.carts.issues = []cart.Issue{{Code: enums.CartIssuePriceChanged}}
	summary, err = env.svc.GetCheckoutSummary(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("summary with issues: %v", err)
	}
	if summary.Valid || len(summary.Issues) != 1 {
		t.Fatalf("expected an invalid summary carrying the issue, got valid=%v issues=%+v", summary.Valid, summary.Issues)
	}
	env.carts.issues = nil

	if _, err := env.svc.GetCheckoutSummary(ctx, "", ""); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for anonymous checkout, got %v", err)
	}

	env.carts.cart.Items = nil
	if _, err := env.svc.GetCheckoutSummary(ctx, "cust-1", ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty cart, got %v", err)
	}
}

func TestFirstOrderDiscount(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.orders.prior = false

	summary, err := env.svc.GetCheckoutSummary(context.Background(), "cust-1", "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	// 10% off $20.00, then 8% tax on $18.00.
	want := Totals{SubtotalCents: 2000, TaxCents: 144, ShippingCents: 999, DiscountCents: 200, TotalCents: 2943}
	if summary.Totals != want {
		t.Fatalf("totals = %+v, want %+v", summary.Totals, want)
	}
	if !summary.FirstOrder {
		t.Fatal("expected first-order flag")
	}
}

func TestFreeShippingThreshold(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.carts.cart.Items[1].Quantity = 10 // $5.00*2 + $10.00*10 = $110.00

	summary, err := env.svc.GetCheckoutSummary(context.Background(), "cust-1", "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Totals.ShippingCents != 0 {
		t.Fatalf("shipping = %d, want 0", summary.Totals.ShippingCents)
	}
}

func TestInitiateCheckout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateCheckout(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.Totals.TotalCents != 3159 || len(session.Lines) != 2 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(env.holds.reserved) != 1 || env.holds.reserved[0].TTL != 30*time.Minute {
		t.Fatalf("unexpected reserve calls: %+v", env.holds.reserved)
	}
	intent := env.payments.intents[session.PaymentIntentID]
	if intent.AmountCents != 3159 {
		t.Fatalf("intent amount mismatch: %+v", env.payments.intents)
	}
	if intent.ReservationID == nil || *intent.ReservationID != session.ReservationID {
		t.Fatalf("intent must reference the reservation, got %+v", intent.ReservationID)
	}
	if intent.Note == nil || !strings.Contains(*intent.Note, "subtotal=2000") || !strings.Contains(*intent.Note, "total=3159") {
		t.Fatalf("intent must carry the totals breakdown, got %+v", intent.Note)
	}

	stored, err := env.sessions.Load(ctx, "cust-1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored session, got %v err=%v", stored, err)
	}

	// A second initiation while the first is live is refused.
	if _, err := env.svc.InitiateCheckout(ctx, "cust-1", ""); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestInitiateCheckoutFailsOnCartIssues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.carts.issues = []cart.Issue{{Code: enums.CartIssueInsufficientStock}}

	_, err := env.svc.InitiateCheckout(context.Background(), "cust-1", "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.holds.reserved) != 0 {
		t.Fatal("no hold should be placed for an invalid cart")
	}
}

func TestInitiateCheckoutReleasesHoldOnIntentFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.payments.createErr = pkgerrors.New(pkgerrors.CodeDependency, "payment provider down")

	_, err := env.svc.InitiateCheckout(context.Background(), "cust-1", "")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(env.holds.released) != 1 {
		t.Fatalf("expected the hold to be released, got %+v", env.holds.released)
	}
	if session, _ := env.sessions.Load(context.Background(), "cust-1"); session != nil {
		t.Fatal("no session should survive a failed initiation")
	}
}

func TestConfirmPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateCheckout(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	order, err := env.svc.ConfirmPayment(ctx, "cust-1", "cnon:card-nonce")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.TotalCents != 3159 {
		t.Fatalf("order total = %d, want 3159", order.TotalCents)
	}
	if len(env.orders.created) != 1 || env.orders.created[0].ReservationID != session.ReservationID {
		t.Fatalf("unexpected order inputs: %+v", env.orders.created)
	}
	if len(env.holds.converted) != 1 {
		t.Fatalf("expected the hold to be converted, got %+v", env.holds.converted)
	}
	if !env.carts.cleared {
		t.Fatal("cart should be cleared after confirmation")
	}
	if stored, _ := env.sessions.Load(ctx, "cust-1"); stored != nil {
		t.Fatal("session should be deleted after confirmation")
	}
}

func TestConfirmPaymentWithoutSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if _, err := env.svc.ConfirmPayment(context.Background(), "cust-1", "cnon:card-nonce"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmPaymentDeclinedKeepsSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.InitiateCheckout(ctx, "cust-1", ""); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	env.payments.confirmErr = pkgerrors.New(pkgerrors.CodePaymentFailed, "card declined")

	if _, err := env.svc.ConfirmPayment(ctx, "cust-1", "cnon:bad-card"); !pkgerrors.IsCode(err, pkgerrors.CodePaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if session, _ := env.sessions.Load(ctx, "cust-1"); session == nil {
		t.Fatal("session should survive a declined charge for retry")
	}
	if len(env.holds.released) != 0 {
		t.Fatal("hold should remain for retry")
	}
}

func TestCancelCheckout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateCheckout(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := env.svc.CancelCheckout(ctx, "cust-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(env.payments.cancelled) != 1 || env.payments.cancelled[0] != session.PaymentIntentID {
		t.Fatalf("unexpected cancelled intents: %+v", env.payments.cancelled)
	}
	if len(env.holds.released) != 1 || env.holds.released[0] != session.ReservationID {
		t.Fatalf("unexpected released holds: %+v", env.holds.released)
	}
	if stored, _ := env.sessions.Load(ctx, "cust-1"); stored != nil {
		t.Fatal("session should be deleted after cancellation")
	}

	if err := env.svc.CancelCheckout(ctx, "cust-1"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found on repeat cancel, got %v", err)
	}
}
