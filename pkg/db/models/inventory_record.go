package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord holds per-product stock counters. UpdatedAt doubles as the
// optimistic-lock version token, so the ledger sets it explicitly on every
// write instead of relying on gorm's auto-update hook.
type InventoryRecord struct {
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity          int       `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity  int       `gorm:"column:reserved_quantity;not null;default:0"`
	TrackQuantity     bool      `gorm:"column:track_quantity;not null;default:true"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:0"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// AvailableQuantity returns on-hand stock minus held stock.
func (r InventoryRecord) AvailableQuantity() int {
	return r.Quantity - r.ReservedQuantity
}

// LowStock reports whether the record is tracked and at or below its threshold.
func (r InventoryRecord) LowStock() bool {
	return r.TrackQuantity && r.AvailableQuantity() <= r.LowStockThreshold
}
