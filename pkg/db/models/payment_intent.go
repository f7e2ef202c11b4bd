package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/checkout-backend/pkg/enums"
)

// PaymentIntent tracks one payment attempt from initiation to settlement.
// SquarePaymentID is set once the charge is captured. ReservationID and Note
// tie the intent back to the checkout that opened it for reconciliation.
type PaymentIntent struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID      string              `gorm:"column:customer_id;not null;index"`
	AmountCents     int                 `gorm:"column:amount_cents;not null"`
	Currency        string              `gorm:"column:currency;not null;default:'USD'"`
	Status          enums.PaymentStatus `gorm:"column:status;not null"`
	ReservationID   *string             `gorm:"column:reservation_id"`
	Note            *string             `gorm:"column:note"`
	SquarePaymentID *string             `gorm:"column:square_payment_id"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
