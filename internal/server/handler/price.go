package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pattarap/tickbar/internal/domain"
)

// PriceService is the slice of the price service the handler needs.
type PriceService interface {
	LastPrice(ctx context.Context, instrument string) (float64, time.Time, error)
}

// PriceHandler serves the latest-price lookup endpoint.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given service and logger.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger,
	}
}

type priceResponse struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// GetLastPrice returns the most recent price observed for a ticker.
// GET /api/last_price?ticker=BTC-USD
func (h *PriceHandler) GetLastPrice(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, `missing required parameter "ticker"`)
		return
	}

	price, ts, err := h.prices.LastPrice(r.Context(), ticker)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "no price found for ticker")
		default:
			h.logger.ErrorContext(r.Context(), "handler: last price failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to query price")
		}
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		Ticker:    ticker,
		Price:     price,
		Timestamp: ts.Unix(),
	})
}
