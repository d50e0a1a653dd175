package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateLimiter throttles outbound exchange calls per key.
type RateLimiter interface {
	// Allow reports whether a request is permitted under the sliding window
	// and counts it when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request for the key is allowed or ctx is done.
	Wait(ctx context.Context, key string) error
}

// MarkPriceCache shares recent mark prices across processes so balance
// validation does not hit the exchange for every request. Staleness is
// tolerated; the cache is never used for fill-price accounting.
type MarkPriceCache interface {
	Set(ctx context.Context, exchange, symbol string, price decimal.Decimal, ts time.Time) error
	// Get returns ErrNotFound when no price is cached.
	Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, time.Time, error)
}
