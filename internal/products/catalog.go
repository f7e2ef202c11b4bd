package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
)

// Snapshot is the read-model the cart and checkout services price against.
type Snapshot struct {
	ProductID  uuid.UUID `json:"product_id"`
	VendorID   uuid.UUID `json:"vendor_id"`
	Name       string    `json:"name"`
	PriceCents int       `json:"price_cents"`
	IsActive   bool      `json:"is_active"`
	ImageURL   *string   `json:"image_url,omitempty"`
}

// Catalog answers product lookups for pricing and validation.
type Catalog interface {
	GetSnapshot(ctx context.Context, productID uuid.UUID) (*Snapshot, error)
	GetSnapshots(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Snapshot, error)
}

type catalog struct {
	repo *Repository
}

// NewCatalog wires the database-backed catalog.
func NewCatalog(repo *Repository) (Catalog, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository is required")
	}
	return &catalog{repo: repo}, nil
}

func (c *catalog) GetSnapshot(ctx context.Context, productID uuid.UUID) (*Snapshot, error) {
	product, err := c.repo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	snapshot := snapshotFromModel(product)
	return &snapshot, nil
}

func (c *catalog) GetSnapshots(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Snapshot, error) {
	rows, err := c.repo.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading products")
	}
	snapshots := make(map[uuid.UUID]Snapshot, len(rows))
	for i := range rows {
		snapshots[rows[i].ID] = snapshotFromModel(&rows[i])
	}
	return snapshots, nil
}

func snapshotFromModel(product *models.Product) Snapshot {
	return Snapshot{
		ProductID:  product.ID,
		VendorID:   product.VendorID,
		Name:       product.Name,
		PriceCents: product.PriceCents,
		IsActive:   product.IsActive,
		ImageURL:   product.ImageURL,
	}
}
