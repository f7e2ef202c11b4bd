package reservation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
)

// Repository encapsulates reservation line persistence. A reservation is a
// group of rows sharing one "res_{uuid}" prefix, one row per product.
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

// CreateLines inserts all lines of a reservation.
func (r *Repository) CreateLines(ctx context.Context, lines []models.Reservation) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

// FindByID returns every line belonging to the reservation, converted or not.
func (r *Repository) FindByID(ctx context.Context, reservationID string) ([]models.Reservation, error) {
	var lines []models.Reservation
	err := r.db.WithContext(ctx).
		Where("id LIKE ? ESCAPE '\\'", linePattern(reservationID)).
		Order("id").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// DeleteLines removes the given lines by exact id.
func (r *Repository) DeleteLines(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.Reservation{}).Error
}

// MarkConverted stamps the order id on every unconverted line of the
// reservation and returns how many lines were stamped.
func (r *Repository) MarkConverted(ctx context.Context, reservationID string, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id LIKE ? ESCAPE '\\' AND order_id IS NULL", linePattern(reservationID)).
		Update("order_id", orderID)
	return res.RowsAffected, res.Error
}

// ListExpired returns unconverted lines whose hold has lapsed, oldest first.
func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var lines []models.Reservation
	query := r.db.WithContext(ctx).
		Where("expires_at <= ? AND order_id IS NULL", now).
		Order("expires_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&lines).Error; err != nil {
		return nil, err
	}
	return lines, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// linePattern builds a LIKE pattern matching all lines of one reservation,
// escaping wildcard characters in the id itself.
func linePattern(reservationID string) string {
	return likeEscaper.Replace(reservationID) + ":%"
}
