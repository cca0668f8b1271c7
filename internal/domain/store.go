package domain

import "context"

// TickStore is the durable append-only log of raw ticks. It enforces no
// uniqueness: the same observation arriving twice (after a feed reconnect,
// for example) is stored twice, and deduplication is left to the aggregator's
// commutative bucket merge.
type TickStore interface {
	// Insert appends a single tick.
	Insert(ctx context.Context, tick Tick) error

	// InsertBatch appends multiple ticks efficiently.
	InsertBatch(ctx context.Context, ticks []Tick) error

	// ListAfter returns all ticks for the given series with timestamp
	// strictly greater than after, ordered by timestamp then arrival
	// sequence.
	ListAfter(ctx context.Context, instrument, exchange string, after int64) ([]Tick, error)

	// ListActivePairs returns every (instrument, exchange) series that has at
	// least one stored tick.
	ListActivePairs(ctx context.Context) ([]Pair, error)

	// ListBefore returns all ticks with timestamp strictly before the cutoff,
	// ordered by timestamp ascending. Used by the archiver.
	ListBefore(ctx context.Context, before int64) ([]Tick, error)

	// DeleteBefore removes ticks with timestamp strictly before the cutoff
	// and returns the number deleted. Only the archiver calls this, and only
	// after the rows have been uploaded to cold storage.
	DeleteBefore(ctx context.Context, before int64) (int64, error)
}

// BarStore persists one-minute bars. The (instrument, exchange, bucket start)
// key is unique; CommitBucket merges into an existing row rather than ever
// inserting a second one.
type BarStore interface {
	// CommitBucket upserts the given bucket aggregate and advances the
	// series watermark in a single transaction. If the stored watermark is
	// already past the new value the transaction is rolled back and
	// ErrWatermarkRegression is returned.
	CommitBucket(ctx context.Context, bar MinuteBar, watermark int64) error

	// ListRange returns bars for the instrument with bucket start in
	// [start, end] (inclusive bounds), ordered ascending by bucket start.
	// An empty exchange matches every exchange.
	ListRange(ctx context.Context, instrument, exchange string, start, end int64) ([]MinuteBar, error)
}

// WatermarkStore tracks aggregation progress per (instrument, exchange).
type WatermarkStore interface {
	// Get returns the last processed tick timestamp for the series, or zero
	// when the series has never been aggregated.
	Get(ctx context.Context, instrument, exchange string) (int64, error)

	// Advance moves the cursor forward. It returns ErrWatermarkRegression if
	// ts is earlier than the stored value; the cursor never rewinds.
	Advance(ctx context.Context, instrument, exchange string, ts int64) error

	// Floor returns the minimum watermark across all series, or zero when no
	// watermarks exist. The archiver uses it as a safety bound: ticks at or
	// above the floor may still be needed by a future aggregation run.
	Floor(ctx context.Context) (int64, error)
}
