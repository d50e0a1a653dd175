// Package pnl provides deterministic P&L, margin and ROI computation for
// two-leg positions. Every value is arbitrary-precision decimal; floating
// point never touches money because fee and funding rounding compounds.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
)

// LongPnL is (exit - entry) * size.
func LongPnL(entry, exit, size decimal.Decimal) decimal.Decimal {
	return exit.Sub(entry).Mul(size)
}

// ShortPnL is (entry - exit) * size.
func ShortPnL(entry, exit, size decimal.Decimal) decimal.Decimal {
	return entry.Sub(exit).Mul(size)
}

// MarginUsed sums entryPrice * size / leverage over the given legs. Legs with
// zero leverage contribute nothing rather than dividing by zero.
func MarginUsed(legs ...domain.Leg) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range legs {
		if !leg.Leverage.IsPositive() {
			continue
		}
		total = total.Add(leg.EntryPrice.Mul(leg.Size).Div(leg.Leverage))
	}
	return total
}

// ROI returns totalPnL / marginUsed * 100, or zero when no margin was used.
func ROI(totalPnL, marginUsed decimal.Decimal) decimal.Decimal {
	if marginUsed.IsZero() {
		return decimal.Zero
	}
	return totalPnL.Div(marginUsed).Mul(hundred)
}

// HoldingSeconds is the holding duration in whole seconds.
func HoldingSeconds(openedAt, closedAt time.Time) int64 {
	d := closedAt.Sub(openedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Breakdown is the full realized P&L decomposition for a closed position.
type Breakdown struct {
	LongPnL        decimal.Decimal
	ShortPnL       decimal.Decimal
	PriceDiffPnL   decimal.Decimal
	FundingPnL     decimal.Decimal
	TotalFees      decimal.Decimal
	TotalPnL       decimal.Decimal
	MarginUsed     decimal.Decimal
	ROIPct         decimal.Decimal
	HoldingSeconds int64
}

// Compute derives the realized P&L for a position whose legs carry entry and
// exit prices. fundingPnL is the signed sum of funding payments across both
// legs; fees are taken from the legs' recorded open and close fees.
func Compute(pos *domain.Position, fundingPnL decimal.Decimal, closedAt time.Time) Breakdown {
	long := LongPnL(pos.Long.EntryPrice, pos.Long.ExitPrice, pos.Long.Size)
	short := ShortPnL(pos.Short.EntryPrice, pos.Short.ExitPrice, pos.Short.Size)
	priceDiff := long.Add(short)

	fees := pos.Long.OpenFee.Add(pos.Long.CloseFee).
		Add(pos.Short.OpenFee).Add(pos.Short.CloseFee)

	total := priceDiff.Add(fundingPnL).Sub(fees)
	margin := MarginUsed(pos.Long, pos.Short)

	return Breakdown{
		LongPnL:        long,
		ShortPnL:       short,
		PriceDiffPnL:   priceDiff,
		FundingPnL:     fundingPnL,
		TotalFees:      fees,
		TotalPnL:       total,
		MarginUsed:     margin,
		ROIPct:         ROI(total, margin),
		HoldingSeconds: HoldingSeconds(pos.OpenedAt, closedAt),
	}
}

// Trade builds the immutable settlement record from a closed position and its
// computed breakdown.
func (b Breakdown) Trade(id string, pos *domain.Position, closedAt time.Time) domain.Trade {
	return domain.Trade{
		ID:             id,
		PositionID:     pos.ID,
		UserID:         pos.UserID,
		Symbol:         pos.Symbol,
		LongExchange:   pos.Long.Exchange,
		ShortExchange:  pos.Short.Exchange,
		LongEntry:      pos.Long.EntryPrice,
		LongExit:       pos.Long.ExitPrice,
		ShortEntry:     pos.Short.EntryPrice,
		ShortExit:      pos.Short.ExitPrice,
		Size:           pos.Long.Size,
		PriceDiffPnL:   b.PriceDiffPnL,
		FundingPnL:     b.FundingPnL,
		TotalFees:      b.TotalFees,
		TotalPnL:       b.TotalPnL,
		MarginUsed:     b.MarginUsed,
		ROIPct:         b.ROIPct,
		HoldingSeconds: b.HoldingSeconds,
		CloseReason:    pos.CloseReason,
		OpenedAt:       pos.OpenedAt,
		ClosedAt:       closedAt,
	}
}
