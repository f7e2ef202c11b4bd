package models

import (
	"time"

	"github.com/google/uuid"
)

// Reservation records one held line of stock. All lines created by a single
// reserve call share the same "res_{uuid}" id prefix, one row per product.
type Reservation struct {
	ID         string     `gorm:"column:id;primaryKey"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	Quantity   int        `gorm:"column:quantity;not null"`
	CustomerID string     `gorm:"column:customer_id;not null;index"`
	SessionID  *string    `gorm:"column:session_id"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null;index"`
	OrderID    *uuid.UUID `gorm:"column:order_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
