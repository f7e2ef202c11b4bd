package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/internal/inventory"
	"github.com/commercekit/checkout-backend/pkg/db"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/metrics"
	"github.com/commercekit/checkout-backend/pkg/outbox"
)

const (
	idPrefix = "res_"

	// Hold lifetimes are clamped to this window, in minutes.
	minTTLMinutes     = 5
	maxTTLMinutes     = 120
	defaultTTLMinutes = 30
)

// NormalizeTTL clamps a requested hold lifetime in minutes to the allowed
// window. Zero or negative requests fall back to the default.
func NormalizeTTL(minutes int) time.Duration {
	switch {
	case minutes <= 0:
		minutes = defaultTTLMinutes
	case minutes < minTTLMinutes:
		minutes = minTTLMinutes
	case minutes > maxTTLMinutes:
		minutes = maxTTLMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Line is one product/quantity pair of a hold.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// ReserveInput describes a multi-line hold request.
type ReserveInput struct {
	CustomerID string
	SessionID  *string
	Lines      []Line
	TTL        time.Duration
}

// Hold is the caller-facing view of a placed reservation.
type Hold struct {
	ReservationID string    `json:"reservation_id"`
	CustomerID    string    `json:"customer_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Converted     bool      `json:"converted"`
	Lines         []Line    `json:"lines"`
}

// Service exposes the reservation registry.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*Hold, error)
	Get(ctx context.Context, reservationID string) (*Hold, error)
	Release(ctx context.Context, reservationID string) (int, error)
	ConvertToOrder(ctx context.Context, tx *gorm.DB, reservationID string, orderID uuid.UUID) error
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type service struct {
	client     *db.Client
	repo       *Repository
	invRepo    *inventory.Repository
	events     *outbox.Service
	logg       *logger.Logger
	metrics    *metrics.ReservationMetrics
	defaultTTL time.Duration
}

// NewService wires the reservation registry.
func NewService(
	client *db.Client,
	repo *Repository,
	invRepo *inventory.Repository,
	events *outbox.Service,
	logg *logger.Logger,
	reservationMetrics *metrics.ReservationMetrics,
	defaultTTL time.Duration,
) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("reservation repository is required")
	}
	if invRepo == nil {
		return nil, fmt.Errorf("inventory repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultTTLMinutes * time.Minute
	}
	return &service{
		client:     client,
		repo:       repo,
		invRepo:    invRepo,
		events:     events,
		logg:       logg,
		metrics:    reservationMetrics,
		defaultTTL: defaultTTL,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*Hold, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	lines, err := coalesceLines(input.Lines)
	if err != nil {
		return nil, err
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	reservationID := idPrefix + uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)

	attempts := 0
	err = inventory.RetryOnConflict(ctx, func() error {
		attempts++
		if attempts > 1 {
			s.metrics.IncRetry()
		}
		return s.client.WithTx(ctx, func(tx *gorm.DB) error {
			return s.reserveInTx(ctx, tx, reservationID, input, lines, expiresAt)
		})
	})
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
			s.metrics.IncOutcome("insufficient_stock")
			return nil, err
		case errors.Is(err, inventory.ErrVersionConflict):
			s.metrics.IncOutcome("conflict")
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation lost concurrent update race")
		default:
			s.metrics.IncOutcome("error")
			if typed := pkgerrors.As(err); typed != nil {
				return nil, typed
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "placing reservation")
		}
	}

	s.metrics.IncOutcome("reserved")
	logCtx := s.logg.WithReservationID(s.logg.WithCustomerID(ctx, input.CustomerID), reservationID)
	logCtx = s.logg.WithField(logCtx, "line_count", len(lines))
	s.logg.Info(logCtx, "reservation placed")

	return &Hold{
		ReservationID: reservationID,
		CustomerID:    input.CustomerID,
		ExpiresAt:     expiresAt,
		Lines:         lines,
	}, nil
}

// reserveInTx checks and holds every line inside one transaction so a
// shortfall on any line rolls back the whole reservation. Every line is
// checked before anything mutates; a failure reports all short lines at once.
// Products the ledger has never seen get an untracked record on the spot.
func (s *service) reserveInTx(ctx context.Context, tx *gorm.DB, reservationID string, input ReserveInput, lines []Line, expiresAt time.Time) error {
	invRepo := s.invRepo.WithTx(tx)

	records := make([]*models.InventoryRecord, len(lines))
	var shortfalls []pkgerrors.StockShortfall
	for i, line := range lines {
		record, err := invRepo.Get(ctx, line.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = &models.InventoryRecord{ProductID: line.ProductID, TrackQuantity: false}
			if err := invRepo.Create(ctx, record); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if record.TrackQuantity {
			available := record.AvailableQuantity()
			if available < line.Quantity {
				shortfalls = append(shortfalls, pkgerrors.StockShortfall{
					ProductID: line.ProductID.String(),
					Requested: line.Quantity,
					Available: available,
				})
				continue
			}
		}
		records[i] = record
	}
	if len(shortfalls) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for one or more products").
			WithDetails(shortfalls)
	}

	rows := make([]models.Reservation, 0, len(lines))
	for i, line := range lines {
		record := records[i]
		if record.TrackQuantity {
			version := record.UpdatedAt
			record.ReservedQuantity += line.Quantity
			if err := invRepo.CompareAndSwap(ctx, record, version); err != nil {
				return err
			}
		}

		rows = append(rows, models.Reservation{
			ID:         lineID(reservationID, line.ProductID),
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			CustomerID: input.CustomerID,
			SessionID:  input.SessionID,
			ExpiresAt:  expiresAt,
		})
	}

	return s.repo.WithTx(tx).CreateLines(ctx, rows)
}

func (s *service) Get(ctx context.Context, reservationID string) (*Hold, error) {
	if err := validateID(reservationID); err != nil {
		return nil, err
	}
	rows, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	return holdFromRows(reservationID, rows), nil
}

// Release returns held stock to the ledger and removes the reservation lines.
// Releasing an unknown or already-released reservation is a no-op; the count
// of released lines is returned.
func (s *service) Release(ctx context.Context, reservationID string) (int, error) {
	if err := validateID(reservationID); err != nil {
		return 0, err
	}

	rows, err := s.repo.FindByID(ctx, reservationID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	active := activeRows(rows)
	if len(active) == 0 {
		return 0, nil
	}

	err = inventory.RetryOnConflict(ctx, func() error {
		return s.client.WithTx(ctx, func(tx *gorm.DB) error {
			return s.releaseInTx(ctx, tx, active)
		})
	})
	if err != nil {
		if errors.Is(err, inventory.ErrVersionConflict) {
			return 0, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "release lost concurrent update race")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "releasing reservation")
	}

	logCtx := s.logg.WithReservationID(ctx, reservationID)
	logCtx = s.logg.WithField(logCtx, "line_count", len(active))
	s.logg.Info(logCtx, "reservation released")
	return len(active), nil
}

func (s *service) releaseInTx(ctx context.Context, tx *gorm.DB, rows []models.Reservation) error {
	invRepo := s.invRepo.WithTx(tx)
	ids := make([]string, 0, len(rows))

	for _, row := range rows {
		ids = append(ids, row.ID)

		record, err := invRepo.Get(ctx, row.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !record.TrackQuantity {
			continue
		}

		version := record.UpdatedAt
		record.ReservedQuantity -= row.Quantity
		if record.ReservedQuantity < 0 {
			record.ReservedQuantity = 0
		}
		if err := invRepo.CompareAndSwap(ctx, record, version); err != nil {
			return err
		}
	}

	return s.repo.WithTx(tx).DeleteLines(ctx, ids)
}

// ConvertToOrder stamps the order id on the reservation inside the caller's
// transaction. The ledger is untouched: the hold keeps counting against
// available stock until fulfilment draws the units down, and the stamped
// lines stay behind for audit, out of reach of release and the sweeper.
func (s *service) ConvertToOrder(ctx context.Context, tx *gorm.DB, reservationID string, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	if err := validateID(reservationID); err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	repo := s.repo.WithTx(tx)
	rows, err := repo.FindByID(ctx, reservationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
	}
	active := activeRows(rows)
	if len(active) == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already converted or released")
	}
	if time.Now().UTC().After(active[0].ExpiresAt) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation has expired")
	}

	stamped, err := repo.MarkConverted(ctx, reservationID, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marking reservation converted")
	}
	if stamped == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already converted or released")
	}
	return nil
}

// SweepExpired restores stock held by lapsed reservations. Each reservation
// is handled in its own transaction so one failure does not block the rest.
func (s *service) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing expired reservations")
	}
	if len(expired) == 0 {
		return 0, nil
	}

	groups := map[string][]models.Reservation{}
	order := make([]string, 0)
	for _, row := range expired {
		base := baseID(row.ID)
		if _, seen := groups[base]; !seen {
			order = append(order, base)
		}
		groups[base] = append(groups[base], row)
	}

	swept := 0
	var sweepErr error
	for _, base := range order {
		rows := groups[base]
		err := inventory.RetryOnConflict(ctx, func() error {
			return s.client.WithTx(ctx, func(tx *gorm.DB) error {
				if err := s.releaseInTx(ctx, tx, rows); err != nil {
					return err
				}
				return s.emitExpired(ctx, tx, base, rows, now)
			})
		})
		if err != nil {
			sweepErr = multierr.Append(sweepErr, fmt.Errorf("sweeping %s: %w", base, err))
			continue
		}
		swept += len(rows)

		logCtx := s.logg.WithReservationID(ctx, base)
		logCtx = s.logg.WithField(logCtx, "line_count", len(rows))
		s.logg.Info(logCtx, "expired reservation swept")
	}

	return swept, sweepErr
}

type expiredEventPayload struct {
	ReservationID string    `json:"reservation_id"`
	CustomerID    string    `json:"customer_id"`
	Lines         []Line    `json:"lines"`
	ExpiredAt     time.Time `json:"expired_at"`
}

func (s *service) emitExpired(ctx context.Context, tx *gorm.DB, reservationID string, rows []models.Reservation, now time.Time) error {
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, Line{ProductID: row.ProductID, Quantity: row.Quantity})
	}
	return s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationExpired,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservationID,
		Version:       1,
		OccurredAt:    now,
		Data: expiredEventPayload{
			ReservationID: reservationID,
			CustomerID:    rows[0].CustomerID,
			Lines:         lines,
			ExpiredAt:     rows[0].ExpiresAt,
		},
	})
}

func coalesceLines(input []Line) ([]Line, error) {
	if len(input) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	byProduct := map[uuid.UUID]int{}
	order := make([]uuid.UUID, 0, len(input))
	for _, line := range input {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be positive")
		}
		if _, seen := byProduct[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		byProduct[line.ProductID] += line.Quantity
	}

	lines := make([]Line, 0, len(order))
	for _, productID := range order {
		lines = append(lines, Line{ProductID: productID, Quantity: byProduct[productID]})
	}
	return lines, nil
}

func activeRows(rows []models.Reservation) []models.Reservation {
	active := make([]models.Reservation, 0, len(rows))
	for _, row := range rows {
		if row.OrderID == nil {
			active = append(active, row)
		}
	}
	return active
}

func holdFromRows(reservationID string, rows []models.Reservation) *Hold {
	hold := &Hold{
		ReservationID: reservationID,
		CustomerID:    rows[0].CustomerID,
		ExpiresAt:     rows[0].ExpiresAt,
		Converted:     true,
		Lines:         make([]Line, 0, len(rows)),
	}
	for _, row := range rows {
		if row.OrderID == nil {
			hold.Converted = false
		}
		hold.Lines = append(hold.Lines, Line{ProductID: row.ProductID, Quantity: row.Quantity})
	}
	return hold
}

func validateID(reservationID string) error {
	if !strings.HasPrefix(reservationID, idPrefix) || len(reservationID) <= len(idPrefix) {
		return pkgerrors.New(pkgerrors.CodeValidation, "malformed reservation id")
	}
	return nil
}

func lineID(reservationID string, productID uuid.UUID) string {
	return reservationID + ":" + productID.String()
}

func baseID(lineID string) string {
	if idx := strings.LastIndex(lineID, ":"); idx > 0 {
		return lineID[:idx]
	}
	return lineID
}
