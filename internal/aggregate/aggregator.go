package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pattarap/tickbar/internal/domain"
)

// Config tunes one Aggregator.
type Config struct {
	// Workers bounds the per-series fan-out within one run.
	Workers int
	// CommitRetries is how many times a failed bucket commit is retried
	// before that series' aggregation is abandoned for the run.
	CommitRetries int
	// RetryBackoff is the pause between commit retries.
	RetryBackoff time.Duration
}

// Aggregator folds unprocessed ticks into minute bars. A run is logically
// idempotent: it consults the per-series watermark, commits each closed
// bucket together with the watermark advance in one transaction, and leaves
// the trailing open bucket for a later run. Invoking it at arbitrary times,
// at arbitrary frequency, or after a crash mid-run produces the same bars.
type Aggregator struct {
	ticks  domain.TickStore
	bars   domain.BarStore
	marks  domain.WatermarkStore
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates an Aggregator over the given stores.
func New(ticks domain.TickStore, bars domain.BarStore, marks domain.WatermarkStore, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CommitRetries <= 0 {
		cfg.CommitRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Aggregator{
		ticks:  ticks,
		bars:   bars,
		marks:  marks,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "aggregator")),
	}
}

// RunOnce executes a single aggregation pass over every active series.
// Series are independent and processed concurrently; a failure in one series
// never aborts another. RunOnce returns an error only when the set of series
// could not even be listed.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	pairs, err := a.ticks.ListActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: list active pairs: %w", err)
	}
	if len(pairs) == 0 {
		return nil
	}

	started := a.now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := a.aggregateSeries(ctx, pair); err != nil {
				// Per-series failures are logged, not propagated: returning
				// an error would cancel the sibling goroutines.
				a.logger.ErrorContext(ctx, "series aggregation failed",
					slog.String("instrument", pair.Instrument),
					slog.String("exchange", pair.Exchange),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	_ = g.Wait()

	a.logger.DebugContext(ctx, "aggregation pass complete",
		slog.Int("series", len(pairs)),
		slog.Duration("elapsed", a.now().Sub(started)),
	)
	return nil
}

// aggregateSeries processes one (instrument, exchange) series: read the
// watermark, fetch newer ticks, bucket them, and commit every closed bucket
// oldest first. Each commit atomically advances the watermark to the last
// tick of that bucket, so a crash between buckets resumes exactly where it
// stopped.
func (a *Aggregator) aggregateSeries(ctx context.Context, pair domain.Pair) error {
	mark, err := a.marks.Get(ctx, pair.Instrument, pair.Exchange)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}

	ticks, err := a.ticks.ListAfter(ctx, pair.Instrument, pair.Exchange, mark)
	if err != nil {
		return fmt.Errorf("list ticks after %d: %w", mark, err)
	}
	if len(ticks) == 0 {
		return nil
	}

	nowUnix := a.now().Unix()
	for _, bucket := range Partition(ticks) {
		if !bucket.Closed(nowUnix) {
			// The window has not fully elapsed; more ticks may still arrive.
			// Everything from here on is re-read on the next run.
			break
		}
		// Shutdown between buckets leaves a safely-resumable watermark.
		if err := ctx.Err(); err != nil {
			return err
		}

		bar := Summarize(pair, bucket)
		if err := a.commitBucket(ctx, bar); err != nil {
			return err
		}
	}
	return nil
}

// commitBucket commits one bucket with bounded retries. A watermark
// regression means a logic bug or a concurrent aggregator; it is never
// retried.
func (a *Aggregator) commitBucket(ctx context.Context, bar domain.MinuteBar) error {
	// The watermark advances to the newest tick folded into this bucket.
	watermark := bar.LastTickTS

	var err error
	for attempt := 1; attempt <= a.cfg.CommitRetries; attempt++ {
		err = a.bars.CommitBucket(ctx, bar, watermark)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrWatermarkRegression) {
			a.logger.ErrorContext(ctx, "watermark regression detected, aborting series",
				slog.String("instrument", bar.Instrument),
				slog.String("exchange", bar.Exchange),
				slog.Int64("bucket_start", bar.BucketStart),
				slog.Int64("watermark", watermark),
			)
			return err
		}
		if attempt < a.cfg.CommitRetries {
			a.logger.WarnContext(ctx, "bucket commit failed, retrying",
				slog.String("instrument", bar.Instrument),
				slog.Int64("bucket_start", bar.BucketStart),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.cfg.RetryBackoff):
			}
		}
	}
	return fmt.Errorf("commit bucket %d after %d attempts: %w",
		bar.BucketStart, a.cfg.CommitRetries, err)
}
