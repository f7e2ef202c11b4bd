package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Product is the catalog collaborator's canonical listing shape.
type Product struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID   uuid.UUID        `gorm:"column:vendor_id;type:uuid;not null"`
	Name       string           `gorm:"column:name;not null"`
	PriceCents int              `gorm:"column:price_cents;not null"`
	IsActive   bool             `gorm:"column:is_active;not null;default:true"`
	ImageURL   *string          `gorm:"column:image_url"`
	Tags       pq.StringArray   `gorm:"column:tags;type:text[]"`
	Inventory  *InventoryRecord `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
