package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/square"
)

// charger is the slice of the Square client the service needs.
type charger interface {
	ChargePayment(ctx context.Context, params square.ChargeParams) (string, error)
}

// CreateIntentInput describes a new payment intent. ReservationID and Note
// ride along as reconciliation metadata and are echoed to the provider at
// charge time.
type CreateIntentInput struct {
	CustomerID    string
	AmountCents   int
	Currency      string
	ReservationID string
	Note          string
}

// Service manages payment intents. The remote charge happens at confirmation
// time; until then the intent only exists locally.
type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error)
	GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, id uuid.UUID, sourceID string) (*models.PaymentIntent, error)
	CancelIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
}

type service struct {
	repo    *Repository
	charger charger
	logg    *logger.Logger
}

// NewService wires the payments service.
func NewService(repo *Repository, paymentCharger charger, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payment repository is required")
	}
	if paymentCharger == nil {
		return nil, fmt.Errorf("charger is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: repo, charger: paymentCharger, logg: logg}, nil
}

func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}

	intent := &models.PaymentIntent{
		ID:          uuid.New(),
		CustomerID:  input.CustomerID,
		AmountCents: input.AmountCents,
		Currency:    currency,
		Status:      enums.PaymentStatusPending,
	}
	if trimmed := strings.TrimSpace(input.ReservationID); trimmed != "" {
		intent.ReservationID = &trimmed
	}
	if trimmed := strings.TrimSpace(input.Note); trimmed != "" {
		intent.Note = &trimmed
	}
	if err := s.repo.Create(ctx, intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payment intent")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": intent.ID.String(),
		"amount_cents":      intent.AmountCents,
	})
	s.logg.Info(logCtx, "payment intent created")
	return intent, nil
}

func (s *service) GetIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading payment intent")
	}
	return intent, nil
}

func (s *service) ConfirmIntent(ctx context.Context, id uuid.UUID, sourceID string) (*models.PaymentIntent, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source is required")
	}
	intent, err := s.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !intent.Status.Confirmable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent is not confirmable").
			WithDetails(map[string]string{"status": string(intent.Status)})
	}

	params := square.ChargeParams{
		AmountCents:    int64(intent.AmountCents),
		SourceID:       sourceID,
		CustomerID:     intent.CustomerID,
		ReferenceID:    intent.ID.String(),
		IdempotencyKey: "intent-" + intent.ID.String(),
	}
	if intent.Note != nil {
		params.Note = *intent.Note
	}
	providerRef, err := s.charger.ChargePayment(ctx, params)
	if err != nil {
		reason := err.Error()
		intent.Status = enums.PaymentStatusFailed
		intent.FailureReason = &reason
		if updateErr := s.repo.Update(ctx, intent); updateErr != nil {
			s.logg.Error(ctx, "recording failed payment", updateErr)
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePaymentFailed, err, "charging payment")
	}

	intent.Status = enums.PaymentStatusSucceeded
	intent.SquarePaymentID = &providerRef
	if err := s.repo.Update(ctx, intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording captured payment")
	}

	logCtx := s.logg.WithField(ctx, "payment_intent_id", intent.ID.String())
	s.logg.Info(logCtx, "payment captured")
	return intent, nil
}

func (s *service) CancelIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.GetIntent(ctx, id)
	if err != nil {
		return nil, err
	}
	switch intent.Status {
	case enums.PaymentStatusSucceeded:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "captured payments cannot be cancelled")
	case enums.PaymentStatusCancelled:
		return intent, nil
	}

	intent.Status = enums.PaymentStatusCancelled
	if err := s.repo.Update(ctx, intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling payment intent")
	}

	logCtx := s.logg.WithField(ctx, "payment_intent_id", intent.ID.String())
	s.logg.Info(logCtx, "payment intent cancelled")
	return intent, nil
}
