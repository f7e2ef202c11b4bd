package payments

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/square"
)

type fakeCharger struct {
	calls []square.ChargeParams
	ref   string
	err   error
}

func (f *fakeCharger) ChargePayment(_ context.Context, params square.ChargeParams) (string, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

func newTestService(t *testing.T, ch *fakeCharger) Service {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.PaymentIntent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(NewRepository(conn), ch, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestConfirmIntent(t *testing.T) {
	t.Parallel()

	ch := &fakeCharger{ref: "sq-payment-1"}
	svc := newTestService(t, ch)
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{
		CustomerID:    "cust-1",
		AmountCents:   2160,
		ReservationID: "res_" + uuid.NewString(),
		Note:          "subtotal=2000 tax=160",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Status != enums.PaymentStatusPending || intent.Currency != "USD" {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	// The reconciliation metadata survives the round trip to the store.
	stored, err := svc.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if stored.ReservationID == nil || *stored.ReservationID != *intent.ReservationID {
		t.Fatalf("expected reservation id persisted, got %+v", stored.ReservationID)
	}
	if stored.Note == nil || *stored.Note != "subtotal=2000 tax=160" {
		t.Fatalf("expected note persisted, got %+v", stored.Note)
	}

	confirmed, err := svc.ConfirmIntent(ctx, intent.ID, "cnon:card-nonce")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != enums.PaymentStatusSucceeded || *confirmed.SquarePaymentID != "sq-payment-1" {
		t.Fatalf("unexpected confirmed intent: %+v", confirmed)
	}
	if len(ch.calls) != 1 || ch.calls[0].AmountCents != 2160 {
		t.Fatalf("unexpected charge calls: %+v", ch.calls)
	}
	if ch.calls[0].Note != "subtotal=2000 tax=160" {
		t.Fatalf("expected the note forwarded to the provider, got %q", ch.calls[0].Note)
	}

	// A captured intent cannot be confirmed or cancelled again.
	if _, err := svc.ConfirmIntent(ctx, intent.ID, "cnon:card-nonce"); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if _, err := svc.CancelIntent(ctx, intent.ID); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict on cancel, got %v", err)
	}
}

func TestConfirmIntentChargeFailure(t *testing.T) {
	t.Parallel()

	ch := &fakeCharger{err: pkgerrors.New(pkgerrors.CodePaymentFailed, "card declined")}
	svc := newTestService(t, ch)
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{CustomerID: "cust-1", AmountCents: 1000})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if _, err := svc.ConfirmIntent(ctx, intent.ID, "cnon:bad-card"); !pkgerrors.IsCode(err, pkgerrors.CodePaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}

	stored, err := svc.GetIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if stored.Status != enums.PaymentStatusFailed || stored.FailureReason == nil {
		t.Fatalf("expected failed intent with reason, got %+v", stored)
	}
}

func TestCancelIntent(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeCharger{ref: "sq-payment-1"})
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, CreateIntentInput{CustomerID: "cust-1", AmountCents: 500})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	cancelled, err := svc.CancelIntent(ctx, intent.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.PaymentStatusCancelled {
		t.Fatalf("unexpected status: %s", cancelled.Status)
	}

	// Cancelling twice is a no-op.
	if _, err := svc.CancelIntent(ctx, intent.ID); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	if _, err := svc.GetIntent(ctx, uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
