package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// aggregatorLockKey names the distributed run lock shared by all processes.
const aggregatorLockKey = "aggregator:run"

// Scheduler invokes the Aggregator on a fixed period. Two guards keep runs
// from overlapping: an in-process flag (a second timer tick while a run is
// still going is skipped) and an optional distributed lock for deployments
// with more than one process against the same store.
type Scheduler struct {
	agg      *Aggregator
	interval time.Duration
	locks    domain.LockManager // nil disables the distributed guard
	running  atomic.Bool
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler running agg every interval. locks may be
// nil for single-process deployments.
func NewScheduler(agg *Aggregator, interval time.Duration, locks domain.LockManager, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		agg:      agg,
		interval: interval,
		locks:    locks,
		logger:   logger.With(slog.String("component", "aggregate_scheduler")),
	}
}

// RunLoop runs an immediate pass and then one per interval until ctx is
// cancelled. It returns ctx.Err() on shutdown.
func (s *Scheduler) RunLoop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "aggregation loop starting",
		slog.Duration("interval", s.interval),
	)

	s.runGuarded(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "aggregation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runGuarded(ctx)
		}
	}
}

// runGuarded executes one pass unless another pass is already in flight.
func (s *Scheduler) runGuarded(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "previous aggregation run still in progress, skipping")
		return
	}
	defer s.running.Store(false)

	if s.locks != nil {
		// Lock TTL outlives the interval so a wedged holder eventually
		// expires rather than blocking aggregation forever.
		unlock, err := s.locks.Acquire(ctx, aggregatorLockKey, 2*s.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.WarnContext(ctx, "aggregation lock held elsewhere, skipping run")
			return
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "aggregation lock acquire failed, skipping run",
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	if err := s.agg.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "aggregation run failed",
			slog.String("error", err.Error()),
		)
	}
}
