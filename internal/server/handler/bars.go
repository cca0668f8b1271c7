package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pattarap/tickbar/internal/domain"
)

// BarService defines what the bar handler needs from the service layer. It is
// declared locally so the handler package does not depend on the concrete
// service implementation.
type BarService interface {
	GetBars(ctx context.Context, instrument, exchange string, start, end int64) ([]domain.MinuteBar, error)
}

// BarHandler serves the minute-bar range query endpoint.
type BarHandler struct {
	bars   BarService
	logger *slog.Logger
}

// NewBarHandler creates a BarHandler with the given service and logger.
func NewBarHandler(bars BarService, logger *slog.Logger) *BarHandler {
	return &BarHandler{
		bars:   bars,
		logger: logger,
	}
}

// barResponse is the wire shape of a single bar, matching the legacy API.
type barResponse struct {
	Ticker     string  `json:"ticker"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
	FirstPrice float64 `json:"firstPrice"`
	LastPrice  float64 `json:"lastPrice"`
	Timestamp  int64   `json:"timestamp"`
	Volume     int64   `json:"volume"`
	DayVolume  int64   `json:"dayVolume"`
}

// GetMinuteBars returns the bars for a ticker within an inclusive time range.
// GET /api/one_min_bars?ticker=BTC-USD&start_time=1700000000&end_time=1700003600
//
// A query with zero matching bars answers 404 rather than an empty array;
// existing clients depend on that.
func (h *BarHandler) GetMinuteBars(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ticker := q.Get("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, `missing required parameter "ticker"`)
		return
	}
	start, err := unixParam(q, "start_time")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := unixParam(q, "end_time")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := h.bars.GetBars(r.Context(), ticker, q.Get("exchange"), start, end)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get bars failed",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query bars")
		return
	}

	if len(bars) == 0 {
		writeError(w, http.StatusNotFound, "no data found for the given parameters")
		return
	}

	out := make([]barResponse, 0, len(bars))
	for _, b := range bars {
		out = append(out, barResponse{
			Ticker:     b.Instrument,
			MinPrice:   b.MinPrice,
			MaxPrice:   b.MaxPrice,
			FirstPrice: b.FirstPrice,
			LastPrice:  b.LastPrice,
			Timestamp:  b.BucketStart,
			Volume:     b.Volume,
			DayVolume:  b.DayVolume,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
