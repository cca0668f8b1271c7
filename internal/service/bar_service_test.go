package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattarap/tickbar/internal/domain"
)

type stubBarStore struct {
	bars []domain.MinuteBar
	err  error

	gotInstrument string
	gotExchange   string
	gotStart      int64
	gotEnd        int64
}

func (s *stubBarStore) CommitBucket(context.Context, domain.MinuteBar, int64) error {
	return nil
}

func (s *stubBarStore) ListRange(_ context.Context, instrument, exchange string, start, end int64) ([]domain.MinuteBar, error) {
	s.gotInstrument = instrument
	s.gotExchange = exchange
	s.gotStart = start
	s.gotEnd = end
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.MinuteBar
	for _, b := range s.bars {
		if b.Instrument != instrument {
			continue
		}
		if exchange != "" && b.Exchange != exchange {
			continue
		}
		if b.BucketStart >= start && b.BucketStart <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeBars() []domain.MinuteBar {
	return []domain.MinuteBar{
		{Instrument: "BTC-USD", Exchange: "CCC", BucketStart: 60, FirstPrice: 1},
		{Instrument: "BTC-USD", Exchange: "CCC", BucketStart: 120, FirstPrice: 2},
		{Instrument: "BTC-USD", Exchange: "CCC", BucketStart: 180, FirstPrice: 3},
	}
}

func TestGetBarsInclusiveBounds(t *testing.T) {
	store := &stubBarStore{bars: threeBars()}
	svc := NewBarService(store, testLogger())

	bars, err := svc.GetBars(context.Background(), "BTC-USD", "", 60, 180)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// Both endpoints are inclusive; a degenerate range still matches.
	bars, err = svc.GetBars(context.Background(), "BTC-USD", "", 120, 120)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, int64(120), bars[0].BucketStart)

	bars, err = svc.GetBars(context.Background(), "BTC-USD", "", 121, 179)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestGetBarsEmptyResultIsNotAnError(t *testing.T) {
	store := &stubBarStore{}
	svc := NewBarService(store, testLogger())

	bars, err := svc.GetBars(context.Background(), "UNKNOWN", "", 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestGetBarsValidation(t *testing.T) {
	store := &stubBarStore{bars: threeBars()}
	svc := NewBarService(store, testLogger())

	_, err := svc.GetBars(context.Background(), "", "", 0, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.GetBars(context.Background(), "BTC-USD", "", 200, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetBarsPassesExchangeFilter(t *testing.T) {
	store := &stubBarStore{bars: threeBars()}
	svc := NewBarService(store, testLogger())

	_, err := svc.GetBars(context.Background(), "BTC-USD", "CCC", 0, 300)
	require.NoError(t, err)
	assert.Equal(t, "CCC", store.gotExchange)
	assert.Equal(t, int64(0), store.gotStart)
	assert.Equal(t, int64(300), store.gotEnd)
}

func TestGetBarsWrapsStoreErrors(t *testing.T) {
	store := &stubBarStore{err: assert.AnError}
	svc := NewBarService(store, testLogger())

	_, err := svc.GetBars(context.Background(), "BTC-USD", "", 0, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
