package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattarap/tickbar/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory fakes. The bar store merge mirrors the SQL upsert semantics so
// idempotency tests exercise the same behavior as the real store.
// ---------------------------------------------------------------------------

type memTickStore struct {
	mu    sync.Mutex
	ticks []domain.Tick
	next  int64
}

var _ domain.TickStore = (*memTickStore)(nil)

func (s *memTickStore) Insert(_ context.Context, t domain.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	t.Seq = s.next
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *memTickStore) InsertBatch(ctx context.Context, ticks []domain.Tick) error {
	for _, t := range ticks {
		if err := s.Insert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *memTickStore) ListAfter(_ context.Context, instrument, exchange string, after int64) ([]domain.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Tick
	for _, t := range s.ticks {
		if t.Instrument == instrument && t.Exchange == exchange && t.Timestamp > after {
			out = append(out, t)
		}
	}
	// Insertion order is (timestamp, seq) order in these tests.
	return out, nil
}

func (s *memTickStore) ListActivePairs(_ context.Context) ([]domain.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.Pair]bool)
	var out []domain.Pair
	for _, t := range s.ticks {
		p := domain.Pair{Instrument: t.Instrument, Exchange: t.Exchange}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memTickStore) ListBefore(_ context.Context, before int64) ([]domain.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Tick
	for _, t := range s.ticks {
		if t.Timestamp < before {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTickStore) DeleteBefore(_ context.Context, before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Tick
	var deleted int64
	for _, t := range s.ticks {
		if t.Timestamp < before {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.ticks = kept
	return deleted, nil
}

type barKey struct {
	instrument, exchange string
	bucketStart          int64
}

type memBarStore struct {
	mu    sync.Mutex
	bars  map[barKey]domain.MinuteBar
	marks *memWatermarkStore

	// failCommits makes the next n commits fail with a transient error.
	failCommits int
	// failInstrument makes every commit for that instrument fail with failErr.
	failInstrument string
	failErr        error
	commits        int
}

var _ domain.BarStore = (*memBarStore)(nil)

func newMemBarStore(marks *memWatermarkStore) *memBarStore {
	return &memBarStore{
		bars:  make(map[barKey]domain.MinuteBar),
		marks: marks,
	}
}

func (s *memBarStore) CommitBucket(ctx context.Context, bar domain.MinuteBar, watermark int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	if s.failCommits > 0 {
		s.failCommits--
		return fmt.Errorf("simulated commit failure")
	}
	if s.failInstrument != "" && bar.Instrument == s.failInstrument {
		return s.failErr
	}

	// Watermark check first so a regression rolls back the whole commit.
	if err := s.marks.Advance(ctx, bar.Instrument, bar.Exchange, watermark); err != nil {
		return err
	}

	key := barKey{bar.Instrument, bar.Exchange, bar.BucketStart}
	existing, ok := s.bars[key]
	if !ok {
		s.bars[key] = bar
		return nil
	}

	merged := existing
	if bar.MinPrice < merged.MinPrice {
		merged.MinPrice = bar.MinPrice
	}
	if bar.MaxPrice > merged.MaxPrice {
		merged.MaxPrice = bar.MaxPrice
	}
	if bar.FirstTickTS < merged.FirstTickTS ||
		(bar.FirstTickTS == merged.FirstTickTS && bar.FirstTickSeq < merged.FirstTickSeq) {
		merged.FirstPrice = bar.FirstPrice
		merged.FirstTickTS = bar.FirstTickTS
		merged.FirstTickSeq = bar.FirstTickSeq
	}
	if bar.LastTickTS > merged.LastTickTS ||
		(bar.LastTickTS == merged.LastTickTS && bar.LastTickSeq >= merged.LastTickSeq) {
		merged.LastPrice = bar.LastPrice
		merged.LastTickTS = bar.LastTickTS
		merged.LastTickSeq = bar.LastTickSeq
	}
	merged.Volume += bar.Volume
	merged.DayVolume += bar.DayVolume
	s.bars[key] = merged
	return nil
}

func (s *memBarStore) ListRange(_ context.Context, instrument, exchange string, start, end int64) ([]domain.MinuteBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MinuteBar
	for k, b := range s.bars {
		if k.instrument != instrument {
			continue
		}
		if exchange != "" && k.exchange != exchange {
			continue
		}
		if k.bucketStart >= start && k.bucketStart <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

type memWatermarkStore struct {
	mu    sync.Mutex
	marks map[domain.Pair]int64
}

var _ domain.WatermarkStore = (*memWatermarkStore)(nil)

func newMemWatermarkStore() *memWatermarkStore {
	return &memWatermarkStore{marks: make(map[domain.Pair]int64)}
}

func (s *memWatermarkStore) Get(_ context.Context, instrument, exchange string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[domain.Pair{Instrument: instrument, Exchange: exchange}], nil
}

func (s *memWatermarkStore) Advance(_ context.Context, instrument, exchange string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := domain.Pair{Instrument: instrument, Exchange: exchange}
	if ts < s.marks[p] {
		return domain.ErrWatermarkRegression
	}
	s.marks[p] = ts
	return nil
}

func (s *memWatermarkStore) Floor(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var floor int64
	first := true
	for _, ts := range s.marks {
		if first || ts < floor {
			floor = ts
			first = false
		}
	}
	return floor, nil
}

// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(ticks *memTickStore, bars *memBarStore, marks *memWatermarkStore, nowUnix int64) *Aggregator {
	agg := New(ticks, bars, marks, Config{
		Workers:       2,
		CommitRetries: 1,
		RetryBackoff:  time.Millisecond,
	}, discardLogger())
	agg.now = func() time.Time { return time.Unix(nowUnix, 0) }
	return agg
}

func seedTicks(t *testing.T, store *memTickStore, ticks ...domain.Tick) {
	t.Helper()
	require.NoError(t, store.InsertBatch(context.Background(), ticks))
}

func TestRunOnceCommitsClosedBuckets(t *testing.T) {
	ctx := context.Background()
	marks := newMemWatermarkStore()
	ticks := &memTickStore{}
	bars := newMemBarStore(marks)

	seedTicks(t, ticks,
		tick(601, 0, 10),
		tick(620, 0, 12),
		tick(659, 0, 8),
		tick(661, 0, 9), // trailing open bucket at now=700
	)

	agg := newTestAggregator(ticks, bars, marks, 700)
	require.NoError(t, agg.RunOnce(ctx))

	bar, ok := bars.bars[barKey{"BTC-USD", "CCC", 600}]
	require.True(t, ok, "closed bucket must be committed")
	assert.Equal(t, 8.0, bar.MinPrice)
	assert.Equal(t, 12.0, bar.MaxPrice)
	assert.Equal(t, 10.0, bar.FirstPrice)
	assert.Equal(t, 8.0, bar.LastPrice)

	_, open := bars.bars[barKey{"BTC-USD", "CCC", 660}]
	assert.False(t, open, "open bucket must not be committed")

	mark, err := marks.Get(ctx, "BTC-USD", "CCC")
	require.NoError(t, err)
	assert.Equal(t, int64(659), mark, "watermark stops at the last committed tick")
}

func TestRunOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	marks := newMemWatermarkStore()
	ticks := &memTickStore{}
	bars := newMemBarStore(marks)

	seedTicks(t, ticks,
		tickWithVolume(601, 0, 10, 4, 100),
		tickWithVolume(659, 0, 8, 6, 110),
	)

	agg := newTestAggregator(ticks, bars, marks, 800)
	require.NoError(t, agg.RunOnce(ctx))
	require.NoError(t, agg.RunOnce(ctx))
	require.NoError(t, agg.RunOnce(ctx))

	bar := bars.bars[barKey{"BTC-USD", "CCC", 600}]
	assert.Equal(t, int64(10), bar.Volume, "re-runs must not double-count volume")
	assert.Equal(t, int64(210), bar.DayVolume)
}

func TestRunOnceResumesAfterCommitFailure(t *testing.T) {
	ctx := context.Background()
	marks := newMemWatermarkStore()
	ticks := &memTickStore{}
	bars := newMemBarStore(marks)

	seedTicks(t, ticks,
		tick(601, 0, 10), // bucket 600
		tick(665, 0, 20), // bucket 660
	)

	agg := newTestAggregator(ticks, bars, marks, 800)

	// The first commit of the run fails (and its single retry is the same
	// call count), so nothing lands and the watermark stays put.
	bars.failCommits = 1
	require.NoError(t, agg.RunOnce(ctx), "commit failures are contained to the series")

	_, ok := bars.bars[barKey{"BTC-USD", "CCC", 600}]
	assert.False(t, ok, "failed commit leaves no bar")
	mark, _ := marks.Get(ctx, "BTC-USD", "CCC")
	assert.Zero(t, mark, "failed commit leaves the watermark untouched")

	// The next run starts from the same watermark and commits both buckets.
	require.NoError(t, agg.RunOnce(ctx))
	assert.Contains(t, bars.bars, barKey{"BTC-USD", "CCC", 600})
	assert.Contains(t, bars.bars, barKey{"BTC-USD", "CCC", 660})
	mark, _ = marks.Get(ctx, "BTC-USD", "CCC")
	assert.Equal(t, int64(665), mark)
}

func TestRunOnceSeriesAreIsolated(t *testing.T) {
	ctx := context.Background()
	marks := newMemWatermarkStore()
	ticks := &memTickStore{}
	bars := newMemBarStore(marks)

	seedTicks(t, ticks,
		tick(601, 0, 10),
		domain.Tick{Instrument: "GC=F", Exchange: "CMX", Price: 2400, Timestamp: 605},
	)

	// Every commit for one series hits a regression; the other series must
	// still aggregate and advance.
	bars.failInstrument = "BTC-USD"
	bars.failErr = domain.ErrWatermarkRegression

	agg := New(ticks, bars, marks, Config{
		Workers:       2,
		CommitRetries: 3,
		RetryBackoff:  time.Millisecond,
	}, discardLogger())
	agg.now = func() time.Time { return time.Unix(800, 0) }
	require.NoError(t, agg.RunOnce(ctx), "per-series failures never fail the run")

	assert.Contains(t, bars.bars, barKey{"GC=F", "CMX", 600})
	assert.NotContains(t, bars.bars, barKey{"BTC-USD", "CCC", 600})

	mark, _ := marks.Get(ctx, "GC=F", "CMX")
	assert.Equal(t, int64(605), mark, "healthy series advances")
	mark, _ = marks.Get(ctx, "BTC-USD", "CCC")
	assert.Zero(t, mark, "failed series stays put")

	// Both series reached their commit exactly once: BTC-USD's regression is
	// not retried despite the retry budget.
	assert.Equal(t, 2, bars.commits)
}

func TestRunOnceNoActiveSeries(t *testing.T) {
	marks := newMemWatermarkStore()
	ticks := &memTickStore{}
	bars := newMemBarStore(marks)

	agg := newTestAggregator(ticks, bars, marks, 800)
	require.NoError(t, agg.RunOnce(context.Background()))
	assert.Empty(t, bars.bars)
}

func TestCommitBucketNeverRetriesRegression(t *testing.T) {
	ctx := context.Background()
	marks := newMemWatermarkStore()
	bars := newMemBarStore(marks)
	require.NoError(t, marks.Advance(ctx, "BTC-USD", "CCC", 10_000))

	agg := New(&memTickStore{}, bars, marks, Config{
		Workers:       1,
		CommitRetries: 5,
		RetryBackoff:  time.Millisecond,
	}, discardLogger())

	bar := domain.MinuteBar{
		Instrument:  "BTC-USD",
		Exchange:    "CCC",
		BucketStart: 600,
		LastTickTS:  659,
	}
	err := agg.commitBucket(ctx, bar)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrWatermarkRegression))
	assert.Equal(t, 1, bars.commits, "a regression is not retried")
}
