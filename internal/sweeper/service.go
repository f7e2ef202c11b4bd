package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/metrics"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

// lockTTL bounds how long a sweep run may hold a job's lock. A crashed worker
// frees the job for the next instance once this elapses.
const lockTTL = 5 * time.Minute

// Job is one cleanup task run on the sweep interval. Run returns how many
// records it removed or repaired.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) (int, error)
}

// Service runs registered cleanup jobs on a fixed interval, one instance at a
// time across the fleet via per-job Redis locks.
type Service struct {
	client   *redis.Client
	logg     *logger.Logger
	metrics  *metrics.SweepJobMetrics
	interval time.Duration
	jobs     []Job
	now      func() time.Time
}

// NewService wires the sweeper.
func NewService(
	client *redis.Client,
	logg *logger.Logger,
	jobMetrics *metrics.SweepJobMetrics,
	interval time.Duration,
	jobs ...Job,
) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		client:   client,
		logg:     logg,
		metrics:  jobMetrics,
		interval: interval,
		jobs:     jobs,
		now:      time.Now,
	}, nil
}

// SetClock overrides the sweeper's clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Run executes the jobs on the configured interval until the context ends.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(ctx, "sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every registered job once, skipping jobs another instance
// currently holds the lock for.
func (s *Service) RunOnce(ctx context.Context) {
	now := s.now().UTC()
	for _, job := range s.jobs {
		s.runJob(ctx, job, now)
	}
}

func (s *Service) runJob(ctx context.Context, job Job, now time.Time) {
	lockKey := s.client.LockKey("sweep_" + job.Name())
	acquired, err := s.client.SetNX(ctx, lockKey, "1", lockTTL)
	if err != nil {
		logCtx := s.logg.WithField(ctx, "job", job.Name())
		s.logg.Error(logCtx, "acquiring sweep lock", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.client.Del(ctx, lockKey); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "job", job.Name()), "releasing sweep lock")
		}
	}()

	started := s.now()
	swept, err := job.Run(ctx, now)
	s.metrics.ObserveDuration(job.Name(), s.now().Sub(started))
	if err != nil {
		s.metrics.IncFailure(job.Name())
		logCtx := s.logg.WithField(ctx, "job", job.Name())
		s.logg.Error(logCtx, "sweep job failed", err)
		return
	}
	s.metrics.IncSuccess(job.Name())
	s.metrics.AddSwept(job.Name(), swept)
	if swept > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "swept": swept})
		s.logg.Info(logCtx, "sweep job completed")
	}
}
