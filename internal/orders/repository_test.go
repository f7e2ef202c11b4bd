package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
)

func seedOrder(t *testing.T, conn *gorm.DB, customerID string, total int, created time.Time) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              uuid.New(),
		CustomerID:      customerID,
		Status:          enums.OrderStatusConfirmed,
		SubtotalCents:   total,
		TotalCents:      total,
		Currency:        "USD",
		PaymentIntentID: uuid.NewString(),
		ReservationID:   "res_" + uuid.NewString(),
		CreatedAt:       created,
		UpdatedAt:       created,
		Items: []models.OrderItem{
			{ID: uuid.New(), ProductID: uuid.New(), Name: "widget", Quantity: 1, UnitPriceCents: total, LineTotalCents: total},
		},
	}
	require.NoError(t, conn.Create(order).Error)
	return order
}

func TestRepositoryListByCustomer(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	older := seedOrder(t, conn, "cust-1", 1000, now.Add(-time.Hour))
	newer := seedOrder(t, conn, "cust-1", 2000, now)
	seedOrder(t, conn, "cust-2", 3000, now)

	rows, err := repo.ListByCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, older.ID, rows[1].ID)
	require.Len(t, rows[0].Items, 1)
	assert.Equal(t, "widget", rows[0].Items[0].Name)
}

func TestRepositoryCountByCustomer(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	now := time.Now().UTC()
	seedOrder(t, conn, "cust-1", 1000, now)
	seedOrder(t, conn, "cust-1", 2000, now)

	count, err := repo.CountByCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = repo.CountByCustomer(context.Background(), "cust-2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepositoryFindByIDAndCustomer(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	order := seedOrder(t, conn, "cust-1", 1500, time.Now().UTC())

	found, err := repo.FindByIDAndCustomer(context.Background(), order.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	require.Len(t, found.Items, 1)

	_, err = repo.FindByIDAndCustomer(context.Background(), order.ID, "cust-2")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryUpdateStatus(t *testing.T) {
	conn := newTestDB(t)
	repo := NewRepository(conn)

	order := seedOrder(t, conn, "cust-1", 1500, time.Now().UTC())

	require.NoError(t, repo.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCancelled))

	found, err := repo.FindByIDAndCustomer(context.Background(), order.ID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, found.Status)
}
