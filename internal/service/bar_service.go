// Package service contains the read-path services exposed over the API.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pattarap/tickbar/internal/domain"
)

// BarService answers time-range queries over minute bars. It never mutates
// state and may run concurrently with the aggregator; storage transaction
// isolation guarantees it only ever sees committed bars.
type BarService struct {
	bars   domain.BarStore
	logger *slog.Logger
}

// NewBarService creates a BarService over the given store.
func NewBarService(bars domain.BarStore, logger *slog.Logger) *BarService {
	return &BarService{
		bars:   bars,
		logger: logger.With(slog.String("component", "bar_service")),
	}
}

// GetBars returns bars for the instrument whose bucket start falls in
// [start, end] (inclusive), ascending by bucket start. An empty exchange
// matches every exchange. A well-formed query with no matching bars yields
// an empty slice, not an error; malformed arguments yield a wrapped
// domain.ErrInvalidArgument.
func (s *BarService) GetBars(ctx context.Context, instrument, exchange string, start, end int64) ([]domain.MinuteBar, error) {
	if instrument == "" {
		return nil, fmt.Errorf("bar_service: empty instrument: %w", domain.ErrInvalidArgument)
	}
	if start > end {
		return nil, fmt.Errorf("bar_service: start %d after end %d: %w", start, end, domain.ErrInvalidArgument)
	}

	bars, err := s.bars.ListRange(ctx, instrument, exchange, start, end)
	if err != nil {
		return nil, fmt.Errorf("bar_service: list range: %w", err)
	}
	return bars, nil
}
