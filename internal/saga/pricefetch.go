package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// PriceFetcher resolves the actual fill price of a just-submitted order via a
// three-tier fallback: the acknowledgement itself, a delayed re-fetch of the
// order, then a size-weighted average over the account's own trades matching
// the order id.
type PriceFetcher struct {
	wait   time.Duration
	logger *slog.Logger
}

func NewPriceFetcher(wait time.Duration, logger *slog.Logger) *PriceFetcher {
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &PriceFetcher{wait: wait, logger: logger.With("component", "price_fetcher")}
}

// FillPrice returns the resolved price and fee for the order. With strict
// set the open-path policy applies: an unresolvable price fails with
// ErrPriceUnavailable. Without it the close-path policy applies: zero is
// returned with a logged warning, because flattening a risky exposure must
// never be blocked on price resolution. The asymmetry is deliberate.
func (f *PriceFetcher) FillPrice(ctx context.Context, sess domain.TradingSession, ack domain.OrderAck, symbol string, strict bool) (decimal.Decimal, decimal.Decimal, error) {
	if p := ack.FillPrice(); p.IsPositive() {
		return p, ack.Fee, nil
	}

	// The venue may not have resolved the fill yet; give it a moment.
	if err := sleep(ctx, f.wait); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	fetched, err := sess.FetchOrder(ctx, ack.ID, symbol)
	if err == nil {
		if p := fetched.FillPrice(); p.IsPositive() {
			fee := fetched.Fee
			if fee.IsZero() {
				fee = ack.Fee
			}
			return p, fee, nil
		}
	} else {
		f.logger.Debug("order re-fetch failed, falling back to own trades",
			"exchange", sess.Exchange(), "order_id", ack.ID, "error", err)
	}

	price, fee, ok := f.fromOwnTrades(ctx, sess, ack.ID, symbol)
	if ok {
		return price, fee, nil
	}

	if strict {
		return decimal.Zero, decimal.Zero, fmt.Errorf("order %s on %s: %w",
			ack.ID, sess.Exchange(), domain.ErrPriceUnavailable)
	}
	f.logger.Warn("fill price unresolved, recording zero",
		"exchange", sess.Exchange(), "order_id", ack.ID, "symbol", symbol)
	return decimal.Zero, ack.Fee, nil
}

// fromOwnTrades computes the size-weighted average price over recent own
// trades belonging to the order.
func (f *PriceFetcher) fromOwnTrades(ctx context.Context, sess domain.TradingSession, orderID, symbol string) (decimal.Decimal, decimal.Decimal, bool) {
	since := time.Now().Add(-10 * time.Minute)
	fills, err := sess.FetchMyTrades(ctx, symbol, since, 100)
	if err != nil {
		f.logger.Debug("own trades fetch failed",
			"exchange", sess.Exchange(), "order_id", orderID, "error", err)
		return decimal.Zero, decimal.Zero, false
	}

	notional := decimal.Zero
	qty := decimal.Zero
	fee := decimal.Zero
	for _, fill := range fills {
		if fill.OrderID != orderID {
			continue
		}
		notional = notional.Add(fill.Price.Mul(fill.Qty))
		qty = qty.Add(fill.Qty)
		fee = fee.Add(fill.Fee)
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return notional.Div(qty), fee, true
}
