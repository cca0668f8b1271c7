package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// PriceService serves the latest observed price per instrument from the
// best-effort cache.
type PriceService struct {
	prices domain.PriceCache
	logger *slog.Logger
}

// NewPriceService creates a PriceService over the given cache.
func NewPriceService(prices domain.PriceCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		prices: prices,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// LastPrice returns the most recent price and its event time for the
// instrument. It returns domain.ErrNotFound for instruments never seen and a
// wrapped domain.ErrInvalidArgument for an empty instrument.
func (s *PriceService) LastPrice(ctx context.Context, instrument string) (float64, time.Time, error) {
	if instrument == "" {
		return 0, time.Time{}, fmt.Errorf("price_service: empty instrument: %w", domain.ErrInvalidArgument)
	}
	return s.prices.GetPrice(ctx, instrument)
}
