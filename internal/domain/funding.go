package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingPayment is one funding transfer on one leg of a position. Amount is
// signed from the account's perspective: positive is income, negative is an
// expense.
type FundingPayment struct {
	ID         int64
	PositionID string
	UserID     string
	Exchange   string
	Symbol     string
	Side       LegSide
	Amount     decimal.Decimal
	PaidAt     time.Time

	// ExternalID is the exchange's ledger id, used for idempotent inserts.
	ExternalID string
}
