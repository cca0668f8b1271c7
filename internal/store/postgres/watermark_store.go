package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattarap/tickbar/internal/domain"
)

// watermarkAdvanceSQL moves the series cursor forward. The WHERE clause makes
// the update conditional: when the stored cursor is already past the new
// value nothing is written, which the caller must treat as a regression.
const watermarkAdvanceSQL = `
	INSERT INTO watermarks (instrument, exchange, last_processed, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (instrument, exchange) DO UPDATE SET
		last_processed = EXCLUDED.last_processed,
		updated_at = NOW()
	WHERE watermarks.last_processed <= EXCLUDED.last_processed`

// WatermarkStore implements domain.WatermarkStore using PostgreSQL.
type WatermarkStore struct {
	pool *pgxpool.Pool
}

// NewWatermarkStore creates a new WatermarkStore backed by the given pool.
func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Get returns the last processed tick timestamp for the series, or zero when
// the series has never been aggregated.
func (s *WatermarkStore) Get(ctx context.Context, instrument, exchange string) (int64, error) {
	var last int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed FROM watermarks WHERE instrument = $1 AND exchange = $2`,
		instrument, exchange,
	).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get watermark %s/%s: %w", instrument, exchange, err)
	}
	return last, nil
}

// Advance moves the cursor forward. It returns domain.ErrWatermarkRegression
// if ts is earlier than the stored cursor.
func (s *WatermarkStore) Advance(ctx context.Context, instrument, exchange string, ts int64) error {
	tag, err := s.pool.Exec(ctx, watermarkAdvanceSQL, instrument, exchange, ts)
	if err != nil {
		return fmt.Errorf("postgres: advance watermark %s/%s: %w", instrument, exchange, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: advance watermark %s/%s to %d: %w",
			instrument, exchange, ts, domain.ErrWatermarkRegression)
	}
	return nil
}

// Floor returns the minimum watermark across all series, or zero when no
// watermarks exist.
func (s *WatermarkStore) Floor(ctx context.Context) (int64, error) {
	var floor int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MIN(last_processed), 0) FROM watermarks`,
	).Scan(&floor)
	if err != nil {
		return 0, fmt.Errorf("postgres: watermark floor: %w", err)
	}
	return floor, nil
}

// Compile-time interface check.
var _ domain.WatermarkStore = (*WatermarkStore)(nil)
