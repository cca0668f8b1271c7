package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pattarap/tickbar/internal/aggregate"
	"github.com/pattarap/tickbar/internal/feed"
)

// Orchestrator manages the background goroutines: the live tick feed, the
// aggregation scheduler, and the cold-storage archiver.
type Orchestrator struct {
	feed        *feed.YahooFeed
	scheduler   *aggregate.Scheduler
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator that coordinates all background
// sub-systems. Any of feed, scheduler, or archiver may be nil, in which case
// that sub-system is not started; at least one must be set.
func NewOrchestrator(
	tickFeed *feed.YahooFeed,
	scheduler *aggregate.Scheduler,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		feed:        tickFeed,
		scheduler:   scheduler,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger,
	}
}

// Run starts the enabled sub-systems as concurrent goroutines using an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("feed", o.feed != nil),
		slog.Bool("aggregator", o.scheduler != nil),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.feed != nil {
		g.Go(func() error {
			o.logger.Info("starting tick feed")
			err := o.feed.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("tick feed: %w", err)
		})
	}

	if o.scheduler != nil {
		g.Go(func() error {
			o.logger.Info("starting aggregation scheduler")
			err := o.scheduler.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("aggregation scheduler: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
