package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/commercekit/checkout-backend/pkg/config"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/logger"
)

// Sink delivers a drained outbox row to the message broker.
type Sink interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

// Publisher drains unpublished outbox rows to the sink on a poll interval.
type Publisher struct {
	repo         *Repository
	sink         Sink
	logg         *logger.Logger
	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
}

// NewPublisher wires the outbox drain loop.
func NewPublisher(repo *Repository, sink Sink, logg *logger.Logger, cfg config.OutboxConfig) (*Publisher, error) {
	if repo == nil {
		return nil, fmt.Errorf("outbox repository is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Publisher{
		repo:         repo,
		sink:         sink,
		logg:         logg,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}, nil
}

// Run polls until the context ends.
func (p *Publisher) Run(ctx context.Context) error {
	p.logg.Info(ctx, "outbox publisher started")
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logg.Info(ctx, "outbox publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.DrainOnce(ctx); err != nil {
				p.logg.Error(ctx, "draining outbox", err)
			}
		}
	}
}

// DrainOnce publishes one batch of unpublished rows and returns how many went
// out. Rows past the attempt limit are left for operators rather than retried
// forever.
func (p *Publisher) DrainOnce(ctx context.Context) (int, error) {
	rows, err := p.repo.FetchUnpublished(p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetching unpublished events: %w", err)
	}

	var (
		published int
		errs      error
	)
	for _, row := range rows {
		if row.AttemptCount >= p.maxAttempts {
			logCtx := p.logg.WithFields(ctx, map[string]any{
				"event_id":   row.ID.String(),
				"event_type": row.EventType,
				"attempts":   row.AttemptCount,
			})
			p.logg.Warn(logCtx, "outbox event exhausted its attempts")
			continue
		}

		if err := p.sink.Publish(ctx, row); err != nil {
			errs = multierr.Append(errs, err)
			if markErr := p.repo.MarkFailed(row.ID, err); markErr != nil {
				errs = multierr.Append(errs, markErr)
			}
			continue
		}
		if err := p.repo.MarkPublished(row.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		published++
	}
	return published, errs
}
