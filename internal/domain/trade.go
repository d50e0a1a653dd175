package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable settlement record created when a position is fully
// closed. It is derived from the Position plus the computed P&L breakdown and
// is never mutated after creation.
type Trade struct {
	ID         string
	PositionID string
	UserID     string
	Symbol     string

	LongExchange  string
	ShortExchange string
	LongEntry     decimal.Decimal
	LongExit      decimal.Decimal
	ShortEntry    decimal.Decimal
	ShortExit     decimal.Decimal
	Size          decimal.Decimal

	PriceDiffPnL decimal.Decimal
	FundingPnL   decimal.Decimal
	TotalFees    decimal.Decimal
	TotalPnL     decimal.Decimal
	MarginUsed   decimal.Decimal
	ROIPct       decimal.Decimal

	HoldingSeconds int64
	CloseReason    CloseReason
	OpenedAt       time.Time
	ClosedAt       time.Time
}
