package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattarap/tickbar/internal/domain"
)

type stubPriceService struct {
	gotInstrument string
	price         float64
	ts            time.Time
	err           error
}

func (s *stubPriceService) LastPrice(_ context.Context, instrument string) (float64, time.Time, error) {
	s.gotInstrument = instrument
	return s.price, s.ts, s.err
}

func getLastPrice(t *testing.T, svc PriceService, query string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewPriceHandler(svc, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/last_price"+query, nil)
	rec := httptest.NewRecorder()
	h.GetLastPrice(rec, req)
	return rec
}

func TestGetLastPriceMissingTicker(t *testing.T) {
	rec := getLastPrice(t, &stubPriceService{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLastPriceNotFound(t *testing.T) {
	svc := &stubPriceService{err: domain.ErrNotFound}
	rec := getLastPrice(t, svc, "?ticker=PTT.BK")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PTT.BK", svc.gotInstrument)
}

func TestGetLastPriceServiceError(t *testing.T) {
	svc := &stubPriceService{err: assert.AnError}
	rec := getLastPrice(t, svc, "?ticker=PTT.BK")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetLastPriceOK(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	svc := &stubPriceService{price: 43125.50, ts: ts}

	rec := getLastPrice(t, svc, "?ticker=BTC-USD")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC-USD", body["ticker"])
	assert.Equal(t, 43125.50, body["price"])
	assert.Equal(t, float64(ts.Unix()), body["timestamp"])
}
