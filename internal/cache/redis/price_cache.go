package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// markPriceTTL bounds staleness of shared mark prices. Consumers tolerate
// stale reads; a missing key falls back to a live FetchMarkPrice call.
const markPriceTTL = 30 * time.Second

// MarkPriceCache implements domain.MarkPriceCache using Redis hashes. Each
// price is stored at "mark:{exchange}:{symbol}" with fields "price" and "ts"
// (Unix nanosecond timestamp).
type MarkPriceCache struct {
	rdb *redis.Client
}

// NewMarkPriceCache creates a MarkPriceCache backed by the given Client.
func NewMarkPriceCache(c *Client) *MarkPriceCache {
	return &MarkPriceCache{rdb: c.Underlying()}
}

func markKey(exchange, symbol string) string {
	return "mark:" + exchange + ":" + symbol
}

// Set stores the latest mark price with a short TTL.
func (mc *MarkPriceCache) Set(ctx context.Context, exchange, symbol string, price decimal.Decimal, ts time.Time) error {
	key := markKey(exchange, symbol)
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, markPriceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set mark price %s: %w", key, err)
	}
	return nil
}

// Get retrieves the latest mark price. It returns domain.ErrNotFound when no
// live entry exists.
func (mc *MarkPriceCache) Get(ctx context.Context, exchange, symbol string) (decimal.Decimal, time.Time, error) {
	key := markKey(exchange, symbol)
	vals, err := mc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get mark price %s: %w", key, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse mark price %s: %w", key, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse mark price ts %s: %w", key, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.MarkPriceCache = (*MarkPriceCache)(nil)
