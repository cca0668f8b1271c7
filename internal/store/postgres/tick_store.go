package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pattarap/tickbar/internal/domain"
)

// TickStore implements domain.TickStore using PostgreSQL.
type TickStore struct {
	pool *pgxpool.Pool
}

// NewTickStore creates a new TickStore backed by the given connection pool.
func NewTickStore(pool *pgxpool.Pool) *TickStore {
	return &TickStore{pool: pool}
}

const tickSelectCols = `id, instrument, exchange, price, ts,
	market_session, change_percent, volume, day_volume, change, price_hint`

const tickInsertSQL = `
	INSERT INTO ticks (
		instrument, exchange, price, ts,
		market_session, change_percent, volume, day_volume, change, price_hint
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func tickInsertArgs(t domain.Tick) []any {
	var session *int16
	if t.Session != nil {
		v := int16(*t.Session)
		session = &v
	}
	return []any{
		t.Instrument, t.Exchange, t.Price, t.Timestamp,
		session, t.ChangePercent, t.Volume, t.DayVolume, t.Change, t.PriceHint,
	}
}

func scanTickRows(rows pgx.Rows) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for rows.Next() {
		var (
			t       domain.Tick
			session *int16
		)
		if err := rows.Scan(
			&t.Seq, &t.Instrument, &t.Exchange, &t.Price, &t.Timestamp,
			&session, &t.ChangePercent, &t.Volume, &t.DayVolume, &t.Change, &t.PriceHint,
		); err != nil {
			return nil, err
		}
		if session != nil {
			s := domain.MarketSession(*session)
			t.Session = &s
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// Insert appends a single tick to the log.
func (s *TickStore) Insert(ctx context.Context, tick domain.Tick) error {
	if _, err := s.pool.Exec(ctx, tickInsertSQL, tickInsertArgs(tick)...); err != nil {
		return fmt.Errorf("postgres: insert tick: %w", err)
	}
	return nil
}

// InsertBatch appends multiple ticks efficiently using pgx Batch.
func (s *TickStore) InsertBatch(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(tickInsertSQL, tickInsertArgs(t)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range ticks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert tick batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListAfter returns ticks for the series with timestamp strictly greater than
// after, ordered by timestamp then arrival sequence. The secondary sort key is
// what gives first/last price its stable tie-break.
func (s *TickStore) ListAfter(ctx context.Context, instrument, exchange string, after int64) ([]domain.Tick, error) {
	query := `SELECT ` + tickSelectCols + `
		FROM ticks
		WHERE instrument = $1 AND exchange = $2 AND ts > $3
		ORDER BY ts ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, instrument, exchange, after)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks after: %w", err)
	}
	defer rows.Close()

	ticks, err := scanTickRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ticks after: %w", err)
	}
	return ticks, nil
}

// ListActivePairs returns every (instrument, exchange) series with at least
// one stored tick.
func (s *TickStore) ListActivePairs(ctx context.Context) ([]domain.Pair, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT instrument, exchange FROM ticks ORDER BY instrument, exchange`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		var p domain.Pair
		if err := rows.Scan(&p.Instrument, &p.Exchange); err != nil {
			return nil, fmt.Errorf("postgres: scan active pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ListBefore returns all ticks with timestamp strictly before the cutoff (for archiving).
func (s *TickStore) ListBefore(ctx context.Context, before int64) ([]domain.Tick, error) {
	query := `SELECT ` + tickSelectCols + ` FROM ticks WHERE ts < $1 ORDER BY ts ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks before: %w", err)
	}
	defer rows.Close()
	return scanTickRows(rows)
}

// DeleteBefore deletes all ticks with timestamp before the cutoff. Returns the number deleted.
func (s *TickStore) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TickStore = (*TickStore)(nil)
