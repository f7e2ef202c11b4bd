package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/commercekit/checkout-backend/pkg/enums"
)

// Order is the finalized result of a confirmed checkout.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID      string            `gorm:"column:customer_id;not null;index"`
	Status          enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	SubtotalCents   int               `gorm:"column:subtotal_cents;not null"`
	TaxCents        int               `gorm:"column:tax_cents;not null"`
	ShippingCents   int               `gorm:"column:shipping_cents;not null"`
	DiscountCents   int               `gorm:"column:discount_cents;not null;default:0"`
	TotalCents      int               `gorm:"column:total_cents;not null"`
	Currency        string            `gorm:"column:currency;not null;default:'USD'"`
	PaymentIntentID string            `gorm:"column:payment_intent_id;not null"`
	ReservationID   string            `gorm:"column:reservation_id;not null"`
	PromoTokens     pq.StringArray    `gorm:"column:promo_tokens;type:text[]"`
	Items           []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem snapshots one purchased line.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	LineTotalCents int       `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
