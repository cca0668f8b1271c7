package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed price per
// instrument. It is best-effort: the durable tick log is the source of truth.
type PriceCache interface {
	SetPrice(ctx context.Context, instrument string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, instrument string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The aggregator uses it to keep
// two processes from running the same aggregation pass concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
