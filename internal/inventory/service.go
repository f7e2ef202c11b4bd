package inventory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

const (
	conflictRetryMin = 20 * time.Millisecond
	conflictRetryMax = 60 * time.Millisecond
)

// RetryOnConflict runs fn, retrying once after a short jittered pause when it
// reports a version conflict. A second conflict is returned to the caller.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrVersionConflict) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(conflictJitter()):
	}

	return fn()
}

func conflictJitter() time.Duration {
	return conflictRetryMin + rand.N(conflictRetryMax-conflictRetryMin)
}

// Availability answers whether a requested quantity can currently be held.
type Availability struct {
	ProductID         uuid.UUID `json:"product_id"`
	Available         bool      `json:"available"`
	AvailableQuantity int       `json:"available_quantity"`
	Tracked           bool      `json:"tracked"`
}

// Status is the read-model view of one inventory record.
type Status struct {
	ProductID         uuid.UUID `json:"product_id"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reserved_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	TrackQuantity     bool      `json:"track_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	LowStock          bool      `json:"low_stock"`
}

// UpdateInput carries a partial inventory update. Nil fields keep the stored
// value.
type UpdateInput struct {
	ProductID         uuid.UUID
	Quantity          *int
	TrackQuantity     *bool
	LowStockThreshold *int
}

// BatchFailure flags one update of a batch that could not be applied.
type BatchFailure struct {
	ProductID uuid.UUID `json:"product_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// Service exposes the stock ledger.
type Service interface {
	CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (*Availability, error)
	GetStatus(ctx context.Context, productID uuid.UUID) (*Status, error)
	GetBatchStatus(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Status, error)
	UpdateInventory(ctx context.Context, input UpdateInput) (*Status, error)
	BatchUpdate(ctx context.Context, inputs []UpdateInput) (map[uuid.UUID]Status, []BatchFailure, error)
	Restore(ctx context.Context, productID uuid.UUID, quantity int) error
}

type service struct {
	repo *Repository
	logg *logger.Logger
}

// NewService wires the ledger service.
func NewService(repo *Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) CheckAvailability(ctx context.Context, productID uuid.UUID, quantity int) (*Availability, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	record, err := s.repo.Get(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Availability{ProductID: productID, Available: false, AvailableQuantity: 0, Tracked: true}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading inventory record")
	}

	if !record.TrackQuantity {
		return &Availability{ProductID: productID, Available: true, AvailableQuantity: record.AvailableQuantity(), Tracked: false}, nil
	}

	available := record.AvailableQuantity()
	return &Availability{
		ProductID:         productID,
		Available:         available >= quantity,
		AvailableQuantity: available,
		Tracked:           true,
	}, nil
}

func (s *service) GetStatus(ctx context.Context, productID uuid.UUID) (*Status, error) {
	record, err := s.repo.Get(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading inventory record")
	}
	return statusFromRecord(record), nil
}

func (s *service) GetBatchStatus(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Status, error) {
	records, err := s.repo.GetBatch(ctx, productIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading inventory records")
	}

	statuses := make(map[uuid.UUID]Status, len(records))
	for i := range records {
		statuses[records[i].ProductID] = *statusFromRecord(&records[i])
	}
	return statuses, nil
}

func (s *service) UpdateInventory(ctx context.Context, input UpdateInput) (*Status, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Quantity != nil && *input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if input.LowStockThreshold != nil && *input.LowStockThreshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "low stock threshold must not be negative")
	}

	var updated *models.InventoryRecord
	err := RetryOnConflict(ctx, func() error {
		record, err := s.repo.Get(ctx, input.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = &models.InventoryRecord{ProductID: input.ProductID, TrackQuantity: true}
			applyUpdate(record, input)
			if err := s.repo.Create(ctx, record); err != nil {
				return err
			}
			updated = record
			return nil
		}
		if err != nil {
			return err
		}

		version := record.UpdatedAt
		applyUpdate(record, input)
		if record.Quantity < record.ReservedQuantity {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "quantity cannot drop below reserved stock").
				WithDetails(pkgerrors.StockShortfall{
					ProductID: record.ProductID.String(),
					Requested: record.Quantity,
					Available: record.ReservedQuantity,
					Reason:    "reserved stock exceeds new quantity",
				})
		}
		if err := s.repo.CompareAndSwap(ctx, record, version); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "inventory update lost the race")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating inventory record")
	}

	if updated.LowStock() {
		lowCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": updated.ProductID.String(),
			"available":  updated.AvailableQuantity(),
			"threshold":  updated.LowStockThreshold,
		})
		s.logg.Warn(lowCtx, "inventory at or below low-stock threshold")
	}

	return statusFromRecord(updated), nil
}

// BatchUpdate applies each update independently. Failures are reported per
// item; the call errors only when every update failed.
func (s *service) BatchUpdate(ctx context.Context, inputs []UpdateInput) (map[uuid.UUID]Status, []BatchFailure, error) {
	if len(inputs) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one update is required")
	}

	statuses := make(map[uuid.UUID]Status, len(inputs))
	var failures []BatchFailure
	for _, input := range inputs {
		status, err := s.UpdateInventory(ctx, input)
		if err != nil {
			failure := BatchFailure{ProductID: input.ProductID, Code: string(pkgerrors.CodeInternal), Message: err.Error()}
			if typed := pkgerrors.As(err); typed != nil {
				failure.Code = string(typed.Code())
				failure.Message = typed.Message()
			}
			failures = append(failures, failure)
			continue
		}
		statuses[status.ProductID] = *status
	}

	if len(statuses) == 0 {
		return nil, failures, pkgerrors.New(pkgerrors.CodeValidation, "no inventory updates could be applied").
			WithDetails(failures)
	}
	return statuses, failures, nil
}

// Restore returns cancelled units to the shelf. Untracked products and
// products the ledger has never seen are left alone.
func (s *service) Restore(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	err := RetryOnConflict(ctx, func() error {
		record, err := s.repo.Get(ctx, productID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !record.TrackQuantity {
			return nil
		}
		version := record.UpdatedAt
		record.Quantity += quantity
		return s.repo.CompareAndSwap(ctx, record, version)
	})
	if errors.Is(err, ErrVersionConflict) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "inventory restore lost the race")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restoring inventory")
	}
	return nil
}

func applyUpdate(record *models.InventoryRecord, input UpdateInput) {
	if input.Quantity != nil {
		record.Quantity = *input.Quantity
	}
	if input.TrackQuantity != nil {
		record.TrackQuantity = *input.TrackQuantity
	}
	if input.LowStockThreshold != nil {
		record.LowStockThreshold = *input.LowStockThreshold
	}
}

func statusFromRecord(record *models.InventoryRecord) *Status {
	return &Status{
		ProductID:         record.ProductID,
		Quantity:          record.Quantity,
		ReservedQuantity:  record.ReservedQuantity,
		AvailableQuantity: record.AvailableQuantity(),
		TrackQuantity:     record.TrackQuantity,
		LowStockThreshold: record.LowStockThreshold,
		LowStock:          record.LowStock(),
	}
}
