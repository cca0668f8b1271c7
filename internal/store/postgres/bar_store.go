package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattarap/tickbar/internal/domain"
)

// barUpsertSQL merges a bucket aggregate into the bars table. On conflict the
// existing row absorbs the new aggregate: min/max take the lesser/greater,
// first/last price move only when the incoming extreme is earlier/later
// (timestamp, then arrival sequence), and volumes accumulate by addition.
// Addition is safe because the watermark guarantees each tick is folded in
// exactly once.
const barUpsertSQL = `
	INSERT INTO minute_bars (
		instrument, exchange, bucket_start,
		min_price, max_price, first_price, last_price,
		first_tick_ts, first_tick_seq, last_tick_ts, last_tick_seq,
		volume, day_volume
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (instrument, exchange, bucket_start) DO UPDATE SET
		min_price = LEAST(minute_bars.min_price, EXCLUDED.min_price),
		max_price = GREATEST(minute_bars.max_price, EXCLUDED.max_price),
		first_price = CASE
			WHEN (EXCLUDED.first_tick_ts, EXCLUDED.first_tick_seq)
			   < (minute_bars.first_tick_ts, minute_bars.first_tick_seq)
			THEN EXCLUDED.first_price ELSE minute_bars.first_price END,
		first_tick_ts = CASE
			WHEN (EXCLUDED.first_tick_ts, EXCLUDED.first_tick_seq)
			   < (minute_bars.first_tick_ts, minute_bars.first_tick_seq)
			THEN EXCLUDED.first_tick_ts ELSE minute_bars.first_tick_ts END,
		first_tick_seq = CASE
			WHEN (EXCLUDED.first_tick_ts, EXCLUDED.first_tick_seq)
			   < (minute_bars.first_tick_ts, minute_bars.first_tick_seq)
			THEN EXCLUDED.first_tick_seq ELSE minute_bars.first_tick_seq END,
		last_price = CASE
			WHEN (EXCLUDED.last_tick_ts, EXCLUDED.last_tick_seq)
			  >= (minute_bars.last_tick_ts, minute_bars.last_tick_seq)
			THEN EXCLUDED.last_price ELSE minute_bars.last_price END,
		last_tick_ts = CASE
			WHEN (EXCLUDED.last_tick_ts, EXCLUDED.last_tick_seq)
			  >= (minute_bars.last_tick_ts, minute_bars.last_tick_seq)
			THEN EXCLUDED.last_tick_ts ELSE minute_bars.last_tick_ts END,
		last_tick_seq = CASE
			WHEN (EXCLUDED.last_tick_ts, EXCLUDED.last_tick_seq)
			  >= (minute_bars.last_tick_ts, minute_bars.last_tick_seq)
			THEN EXCLUDED.last_tick_seq ELSE minute_bars.last_tick_seq END,
		volume = minute_bars.volume + EXCLUDED.volume,
		day_volume = minute_bars.day_volume + EXCLUDED.day_volume`

const barSelectCols = `instrument, exchange, bucket_start,
	min_price, max_price, first_price, last_price,
	first_tick_ts, first_tick_seq, last_tick_ts, last_tick_seq,
	volume, day_volume`

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore creates a new BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// CommitBucket upserts the bucket aggregate and advances the series watermark
// as a single transaction. Either both land or neither does, so a crash
// between them leaves the ticks unconsumed and the next run retries cleanly.
func (s *BarStore) CommitBucket(ctx context.Context, bar domain.MinuteBar, watermark int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bucket commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, barUpsertSQL,
		bar.Instrument, bar.Exchange, bar.BucketStart,
		bar.MinPrice, bar.MaxPrice, bar.FirstPrice, bar.LastPrice,
		bar.FirstTickTS, bar.FirstTickSeq, bar.LastTickTS, bar.LastTickSeq,
		bar.Volume, bar.DayVolume,
	); err != nil {
		return fmt.Errorf("postgres: upsert bar %s/%s@%d: %w",
			bar.Instrument, bar.Exchange, bar.BucketStart, err)
	}

	tag, err := tx.Exec(ctx, watermarkAdvanceSQL, bar.Instrument, bar.Exchange, watermark)
	if err != nil {
		return fmt.Errorf("postgres: advance watermark in bucket commit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bucket commit %s/%s@%d watermark %d: %w",
			bar.Instrument, bar.Exchange, bar.BucketStart, watermark,
			domain.ErrWatermarkRegression)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bucket %s/%s@%d: %w",
			bar.Instrument, bar.Exchange, bar.BucketStart, err)
	}
	return nil
}

// ListRange returns bars for the instrument with bucket_start in [start, end],
// ordered ascending. An empty exchange matches every exchange.
func (s *BarStore) ListRange(ctx context.Context, instrument, exchange string, start, end int64) ([]domain.MinuteBar, error) {
	query := `SELECT ` + barSelectCols + `
		FROM minute_bars
		WHERE instrument = $1 AND bucket_start BETWEEN $2 AND $3`
	args := []any{instrument, start, end}

	if exchange != "" {
		query += ` AND exchange = $4`
		args = append(args, exchange)
	}
	query += ` ORDER BY bucket_start ASC, exchange ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars: %w", err)
	}
	defer rows.Close()

	bars, err := scanBarRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bars: %w", err)
	}
	return bars, nil
}

func scanBarRows(rows pgx.Rows) ([]domain.MinuteBar, error) {
	var bars []domain.MinuteBar
	for rows.Next() {
		var b domain.MinuteBar
		if err := rows.Scan(
			&b.Instrument, &b.Exchange, &b.BucketStart,
			&b.MinPrice, &b.MaxPrice, &b.FirstPrice, &b.LastPrice,
			&b.FirstTickTS, &b.FirstTickSeq, &b.LastTickTS, &b.LastTickSeq,
			&b.Volume, &b.DayVolume,
		); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Compile-time interface check.
var _ domain.BarStore = (*BarStore)(nil)
