package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
)

// ErrVersionConflict signals that a conditional write matched zero rows
// because another writer advanced the record's updated_at token first.
var ErrVersionConflict = errors.New("inventory: version conflict")

// Repository encapsulates inventory record persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Get returns the inventory record for the product.
func (r *Repository) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetBatch returns the inventory records for the given products. Products
// without a record are simply absent from the result.
func (r *Repository) GetBatch(ctx context.Context, productIDs []uuid.UUID) ([]models.InventoryRecord, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var records []models.InventoryRecord
	err := r.db.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Create inserts a fresh inventory record, stamping its version token.
func (r *Repository) Create(ctx context.Context, record *models.InventoryRecord) error {
	record.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(record).Error
}

// CompareAndSwap persists the record's counters only if the stored row still
// carries the given version token. The row's updated_at advances on success
// and the in-memory record is stamped to match. A stale token yields
// ErrVersionConflict.
func (r *Repository) CompareAndSwap(ctx context.Context, record *models.InventoryRecord, version time.Time) error {
	now := time.Now().UTC()
	if !now.After(version) {
		now = version.Add(time.Microsecond)
	}

	res := r.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("product_id = ? AND updated_at = ?", record.ProductID, version).
		Updates(map[string]any{
			"quantity":            record.Quantity,
			"reserved_quantity":   record.ReservedQuantity,
			"track_quantity":      record.TrackQuantity,
			"low_stock_threshold": record.LowStockThreshold,
			"updated_at":          now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}

	record.UpdatedAt = now
	return nil
}
