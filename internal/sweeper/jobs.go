package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/commercekit/checkout-backend/internal/checkout"
	"github.com/commercekit/checkout-backend/pkg/db/models"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

// reservationBatchLimit caps how many expired lines one sweep run loads.
const reservationBatchLimit = 500

type reservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type holdReleaser interface {
	Release(ctx context.Context, reservationID string) (int, error)
}

type intentCanceller interface {
	CancelIntent(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
}

// ExpiredReservationsJob returns expired holds to the ledger.
type ExpiredReservationsJob struct {
	holds reservationSweeper
}

func NewExpiredReservationsJob(holds reservationSweeper) *ExpiredReservationsJob {
	return &ExpiredReservationsJob{holds: holds}
}

func (j *ExpiredReservationsJob) Name() string { return "expired_reservations" }

func (j *ExpiredReservationsJob) Run(ctx context.Context, now time.Time) (int, error) {
	return j.holds.SweepExpired(ctx, now, reservationBatchLimit)
}

// CartRepairJob finds cart keys persisted without an expiry and gives them
// one. Redis handles normal cart expiry; this catches keys written during a
// partial failure.
type CartRepairJob struct {
	client    *redis.Client
	logg      *logger.Logger
	repairTTL time.Duration
}

func NewCartRepairJob(client *redis.Client, logg *logger.Logger, repairTTL time.Duration) *CartRepairJob {
	if repairTTL <= 0 {
		repairTTL = 2 * time.Hour
	}
	return &CartRepairJob{client: client, logg: logg, repairTTL: repairTTL}
}

func (j *CartRepairJob) Name() string { return "cart_repair" }

func (j *CartRepairJob) Run(ctx context.Context, _ time.Time) (int, error) {
	var (
		repaired int
		cursor   uint64
		errs     error
	)
	for {
		keys, next, err := j.client.Scan(ctx, cursor, j.client.CartKeyPattern(), 100)
		if err != nil {
			return repaired, err
		}
		for _, key := range keys {
			ttl, err := j.client.TTL(ctx, key)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			// go-redis reports a key without expiry as the raw -1 sentinel.
			if ttl != time.Duration(-1) {
				continue
			}
			if _, err := j.client.Expire(ctx, key, j.repairTTL); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			repaired++
		}
		cursor = next
		if cursor == 0 {
			return repaired, errs
		}
	}
}

// StaleSessionsJob reaps checkout sessions past their quoted expiry,
// releasing the hold and voiding the intent each one still references.
type StaleSessionsJob struct {
	sessions *checkout.SessionStore
	holds    holdReleaser
	intents  intentCanceller
	logg     *logger.Logger
}

func NewStaleSessionsJob(sessions *checkout.SessionStore, holds holdReleaser, intents intentCanceller, logg *logger.Logger) *StaleSessionsJob {
	return &StaleSessionsJob{sessions: sessions, holds: holds, intents: intents, logg: logg}
}

func (j *StaleSessionsJob) Name() string { return "stale_sessions" }

func (j *StaleSessionsJob) Run(ctx context.Context, now time.Time) (int, error) {
	expired, err := j.sessions.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		reaped int
		errs   error
	)
	for _, session := range expired {
		if _, err := j.holds.Release(ctx, session.ReservationID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := j.intents.CancelIntent(ctx, session.PaymentIntentID); err != nil {
			logCtx := j.logg.WithField(ctx, "payment_intent_id", session.PaymentIntentID.String())
			j.logg.Warn(logCtx, "cancelling intent for stale session")
		}
		if err := j.sessions.Delete(ctx, session.CustomerID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		reaped++
	}
	return reaped, errs
}
