// Package saga implements the open and close coordinators for two-exchange
// market-neutral positions. Each saga fans out exactly two concurrent leg
// submissions, joins on both results, and classifies the outcome into a
// terminal position state, compensating a lone fill with bounded retries.
package saga

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// Config tunes the saga timing and margin policy. Zero values fall back to
// the defaults below.
type Config struct {
	// LegTimeout bounds the wait for each leg's order submission. Elapsing
	// is a leg failure; the underlying exchange call is abandoned, not
	// cancelled, and any fill is reconciled by compensation.
	LegTimeout time.Duration
	// CompensationDelays are the pauses before each compensation attempt.
	// Their length is the attempt bound.
	CompensationDelays []time.Duration
	// OpenLockTTL and CloseLockTTL bound the blast radius of a crashed
	// saga holder.
	OpenLockTTL  time.Duration
	CloseLockTTL time.Duration
	// PriceFetchWait is the pause before re-fetching an order whose
	// acknowledgement omitted the fill price.
	PriceFetchWait time.Duration
	// BalanceBuffer is the safety margin applied on top of required margin.
	BalanceBuffer decimal.Decimal
	// MarginAsset is the quote asset balances are checked in.
	MarginAsset string
}

func (c Config) withDefaults() Config {
	if c.LegTimeout <= 0 {
		c.LegTimeout = 30 * time.Second
	}
	if len(c.CompensationDelays) == 0 {
		c.CompensationDelays = []time.Duration{0, time.Second, 2 * time.Second}
	}
	if c.OpenLockTTL <= 0 {
		c.OpenLockTTL = 30 * time.Second
	}
	if c.CloseLockTTL <= 0 {
		c.CloseLockTTL = 60 * time.Second
	}
	if c.PriceFetchWait <= 0 {
		c.PriceFetchWait = 500 * time.Millisecond
	}
	if c.BalanceBuffer.IsZero() {
		c.BalanceBuffer = decimal.NewFromFloat(0.10)
	}
	if c.MarginAsset == "" {
		c.MarginAsset = "USDT"
	}
	return c
}

// EventSink receives saga lifecycle notifications. Delivery is best effort
// and must never influence saga outcomes.
type EventSink interface {
	PositionOpened(ctx context.Context, pos domain.Position)
	PositionClosed(ctx context.Context, pos domain.Position, trade domain.Trade)
	PositionFailed(ctx context.Context, pos domain.Position, err error)
	// UnhedgedExposure is the escalation path: PARTIAL outcomes and rollback
	// failures leave one live leg without its hedge.
	UnhedgedExposure(ctx context.Context, pos domain.Position, err error)
	ConditionalFailed(ctx context.Context, pos domain.Position, err error)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) PositionOpened(context.Context, domain.Position)               {}
func (NopSink) PositionClosed(context.Context, domain.Position, domain.Trade) {}
func (NopSink) PositionFailed(context.Context, domain.Position, error)        {}
func (NopSink) UnhedgedExposure(context.Context, domain.Position, error)      {}
func (NopSink) ConditionalFailed(context.Context, domain.Position, error)     {}

// sleep waits for d or until ctx is done. A zero or negative d returns
// immediately.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
