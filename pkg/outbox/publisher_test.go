package outbox

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/commercekit/checkout-backend/pkg/config"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/enums"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

const outboxTableSQL = `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME
);`

type fakeSink struct {
	published []uuid.UUID
	failFor   map[uuid.UUID]error
}

func (f *fakeSink) Publish(_ context.Context, event models.OutboxEvent) error {
	if err, ok := f.failFor[event.ID]; ok {
		return err
	}
	f.published = append(f.published, event.ID)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.Exec(outboxTableSQL).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return conn
}

func emitEvent(t *testing.T, conn *gorm.DB, svc *Service) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	aggregateID := "res_" + uuid.NewString()
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventReservationExpired,
			AggregateType: enums.AggregateReservation,
			AggregateID:   aggregateID,
			Version:       1,
			Data:          map[string]string{"reason": "test"},
		}); err != nil {
			return err
		}
		var row models.OutboxEvent
		if err := tx.First(&row, "aggregate_id = ?", aggregateID).Error; err != nil {
			return err
		}
		id = row.ID
		return nil
	})
	if err != nil {
		t.Fatalf("emit event: %v", err)
	}
	return id
}

func TestDrainOnce(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo := NewRepository(conn)
	svc := NewService(repo, logg)

	okID := emitEvent(t, conn, svc)
	badID := emitEvent(t, conn, svc)

	sink := &fakeSink{failFor: map[uuid.UUID]error{badID: fmt.Errorf("broker unavailable")}}
	publisher, err := NewPublisher(repo, sink, logg, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	ctx := context.Background()

	published, err := publisher.DrainOnce(ctx)
	if err == nil {
		t.Fatal("expected the failed publish to surface")
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1", published)
	}
	if len(sink.published) != 1 || sink.published[0] != okID {
		t.Fatalf("unexpected sink deliveries: %+v", sink.published)
	}

	var okRow, badRow models.OutboxEvent
	if err := conn.First(&okRow, "id = ?", okID).Error; err != nil {
		t.Fatalf("load ok row: %v", err)
	}
	if okRow.PublishedAt == nil {
		t.Fatal("published row should be stamped")
	}
	if err := conn.First(&badRow, "id = ?", badID).Error; err != nil {
		t.Fatalf("load bad row: %v", err)
	}
	if badRow.PublishedAt != nil || badRow.AttemptCount != 1 || badRow.LastError == nil {
		t.Fatalf("failed row should record the attempt, got %+v", badRow)
	}

	// Subsequent drains retry only the failed row until it exhausts its
	// attempts, then leave it alone.
	delete(sink.failFor, badID)
	published, err = publisher.DrainOnce(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1", published)
	}
}

func TestDrainOnceSkipsExhaustedEvents(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo := NewRepository(conn)
	svc := NewService(repo, logg)

	id := emitEvent(t, conn, svc)
	if err := conn.Model(&models.OutboxEvent{}).Where("id = ?", id).Update("attempt_count", 3).Error; err != nil {
		t.Fatalf("seed attempts: %v", err)
	}

	sink := &fakeSink{}
	publisher, err := NewPublisher(repo, sink, logg, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	published, err := publisher.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if published != 0 || len(sink.published) != 0 {
		t.Fatalf("exhausted event should not publish, got %d %+v", published, sink.published)
	}
}
