// Package ingest adapts inbound tick events from the market-data feed into
// durable tick store writes.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// Sink accepts one tick event per call, validates it, and appends it to the
// tick store. A malformed event is dropped and counted, never fatal: the feed
// subscription must survive bad messages. Accepted ticks also refresh the
// best-effort last-price cache when one is configured.
type Sink struct {
	ticks  domain.TickStore
	prices domain.PriceCache // nil disables the cache write
	logger *slog.Logger

	accepted atomic.Int64
	dropped  atomic.Int64
}

// NewSink creates a Sink. prices may be nil.
func NewSink(ticks domain.TickStore, prices domain.PriceCache, logger *slog.Logger) *Sink {
	return &Sink{
		ticks:  ticks,
		prices: prices,
		logger: logger.With(slog.String("component", "ingest_sink")),
	}
}

// Record validates and persists a single tick. It returns a wrapped
// domain.ErrInvalidTick for malformed events; callers should log and carry
// on. Storage errors are returned as-is and are likewise non-fatal to the
// feed.
func (s *Sink) Record(ctx context.Context, tick domain.Tick) error {
	if err := validate(tick); err != nil {
		s.dropped.Add(1)
		s.logger.WarnContext(ctx, "dropping malformed tick",
			slog.String("instrument", tick.Instrument),
			slog.String("exchange", tick.Exchange),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := s.ticks.Insert(ctx, tick); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("ingest: store tick %s: %w", tick.Instrument, err)
	}
	s.accepted.Add(1)

	if s.prices != nil {
		if err := s.prices.SetPrice(ctx, tick.Instrument, tick.Price, time.Unix(tick.Timestamp, 0)); err != nil {
			// Cache misses are tolerable; the tick log is the source of truth.
			s.logger.WarnContext(ctx, "last-price cache update failed",
				slog.String("instrument", tick.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Accepted returns the number of ticks persisted since startup.
func (s *Sink) Accepted() int64 { return s.accepted.Load() }

// Dropped returns the number of events dropped since startup.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

func validate(t domain.Tick) error {
	switch {
	case t.Instrument == "":
		return fmt.Errorf("ingest: missing instrument: %w", domain.ErrInvalidTick)
	case t.Exchange == "":
		return fmt.Errorf("ingest: missing exchange: %w", domain.ErrInvalidTick)
	case t.Timestamp <= 0:
		return fmt.Errorf("ingest: missing or invalid timestamp: %w", domain.ErrInvalidTick)
	case t.Price <= 0, math.IsNaN(t.Price), math.IsInf(t.Price, 0):
		return fmt.Errorf("ingest: missing or invalid price: %w", domain.ErrInvalidTick)
	}
	return nil
}
