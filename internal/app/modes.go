package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pattarap/tickbar/internal/aggregate"
	"github.com/pattarap/tickbar/internal/domain"
	"github.com/pattarap/tickbar/internal/feed"
	"github.com/pattarap/tickbar/internal/ingest"
	"github.com/pattarap/tickbar/internal/pipeline"
	"github.com/pattarap/tickbar/internal/server"
	"github.com/pattarap/tickbar/internal/server/handler"
	"github.com/pattarap/tickbar/internal/service"
)

// CollectMode runs only the live tick feed, writing ticks to the store and
// the latest price to the cache. Aggregation is expected to run elsewhere.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	orch := pipeline.NewOrchestrator(
		a.buildFeed(deps),
		nil,
		nil,
		"",
		componentLogger(a.logger, "orchestrator"),
	)
	return orch.Run(ctx)
}

// AggregateMode runs only the aggregation scheduler plus, when enabled, the
// retention archiver. Use it to fold ticks collected by another process.
func (a *App) AggregateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting aggregate mode")

	orch := pipeline.NewOrchestrator(
		nil,
		a.buildScheduler(deps),
		a.buildArchiver(deps),
		a.cfg.Archive.Cron,
		componentLogger(a.logger, "orchestrator"),
	)
	return orch.Run(ctx)
}

// ServeMode runs only the HTTP API over already-aggregated data.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem in one process: the tick feed, the aggregation
// scheduler, the archiver cron, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	orch := pipeline.NewOrchestrator(
		a.buildFeed(deps),
		a.buildScheduler(deps),
		a.buildArchiver(deps),
		a.cfg.Archive.Cron,
		componentLogger(a.logger, "orchestrator"),
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// buildFeed wires the websocket feed to the ingest sink.
func (a *App) buildFeed(deps *Dependencies) *feed.YahooFeed {
	sink := ingest.NewSink(deps.TickStore, deps.PriceCache, componentLogger(a.logger, "sink"))

	onTick := func(ctx context.Context, tick domain.Tick) {
		if err := sink.Record(ctx, tick); err != nil {
			a.logger.ErrorContext(ctx, "feed: record tick failed",
				slog.String("instrument", tick.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}

	return feed.NewYahooFeed(
		a.cfg.Feed.WsURL,
		a.cfg.Feed.Tickers,
		onTick,
		componentLogger(a.logger, "feed"),
	)
}

// buildScheduler wires the aggregator and its run scheduler.
func (a *App) buildScheduler(deps *Dependencies) *aggregate.Scheduler {
	agg := aggregate.New(
		deps.TickStore,
		deps.BarStore,
		deps.WatermarkStore,
		aggregate.Config{
			Workers:       a.cfg.Aggregator.Workers,
			CommitRetries: a.cfg.Aggregator.CommitRetries,
		},
		componentLogger(a.logger, "aggregator"),
	)
	return aggregate.NewScheduler(
		agg,
		a.cfg.Aggregator.Interval.Duration,
		deps.LockManager,
		componentLogger(a.logger, "scheduler"),
	)
}

// buildArchiver wires the retention archiver, or returns nil when archival is
// disabled or object storage was not configured.
func (a *App) buildArchiver(deps *Dependencies) *pipeline.Archiver {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(
		deps.Archiver,
		deps.TickStore,
		deps.WatermarkStore,
		a.cfg.Archive.RetentionDays,
		componentLogger(a.logger, "archiver"),
	)
}

// startHTTPServer adds the HTTP server goroutines to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	barSvc := service.NewBarService(deps.BarStore, a.logger)
	priceSvc := service.NewPriceService(deps.PriceCache, a.logger)

	handlerLogger := componentLogger(a.logger, "handler")
	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(handlerLogger),
			Bars:   handler.NewBarHandler(barSvc, handlerLogger),
			Prices: handler.NewPriceHandler(priceSvc, handlerLogger),
		},
		deps.RateLimiter,
		componentLogger(a.logger, "server"),
	)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
