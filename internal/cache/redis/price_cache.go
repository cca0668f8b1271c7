package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pattarap/tickbar/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// instrument's latest observation is stored as a hash at key
// "price:{instrument}" with fields "price" and "ts" (Unix second timestamp).
// The ingestion sink writes it on every accepted tick; the API serves it from
// the last-price endpoint. The durable tick log remains the source of truth.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(instrument string) string {
	return "price:" + instrument
}

// SetPrice stores the latest price and timestamp for an instrument.
func (pc *PriceCache) SetPrice(ctx context.Context, instrument string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.Unix(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(instrument), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", instrument, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an instrument.
// It returns domain.ErrNotFound when the instrument has never been seen.
func (pc *PriceCache) GetPrice(ctx context.Context, instrument string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(instrument)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", instrument, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsSec, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", instrument, err)
	}

	return price, time.Unix(tsSec, 0).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
