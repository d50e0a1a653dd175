package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks the saga lifecycle of a two-leg position.
//
// PENDING and CLOSING are transient: while a position carries one of them it
// is exclusively owned by the saga holding the (user, symbol) lock. OPEN,
// CLOSED and FAILED are terminal for their respective sagas. PARTIAL is
// terminal-but-unresolved: one leg is live without its hedge and an operator
// must intervene before any further automated action.
type PositionStatus string

const (
	PositionStatusPending PositionStatus = "pending"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusPartial PositionStatus = "partial"
	PositionStatusFailed  PositionStatus = "failed"
)

// ConditionalStatus tracks whether stop-loss/take-profit orders were armed.
// Empty means none were requested.
type ConditionalStatus string

const (
	ConditionalStatusSet    ConditionalStatus = "set"
	ConditionalStatusFailed ConditionalStatus = "failed"
)

// CloseReason records what initiated a close.
type CloseReason string

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
)

// LegSide identifies the long or short half of a position.
type LegSide string

const (
	LegLong  LegSide = "long"
	LegShort LegSide = "short"
)

// OpenSide returns the literal order side that opens this leg.
func (s LegSide) OpenSide() Side {
	if s == LegShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide returns the literal order side that flattens this leg.
func (s LegSide) CloseSide() Side {
	if s == LegShort {
		return SideBuy
	}
	return SideSell
}

// Opposite returns the other leg side.
func (s LegSide) Opposite() LegSide {
	if s == LegLong {
		return LegShort
	}
	return LegLong
}

// ConditionalLevel is a trigger price plus the exchange order id once armed.
type ConditionalLevel struct {
	Price   decimal.Decimal
	OrderID string
}

// IsSet reports whether a trigger level was requested.
func (c ConditionalLevel) IsSet() bool { return c.Price.IsPositive() }

// Leg is one side of a two-exchange position.
type Leg struct {
	Exchange     string
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Size         decimal.Decimal
	Leverage     decimal.Decimal
	OpenOrderID  string
	CloseOrderID string
	OpenFee      decimal.Decimal
	CloseFee     decimal.Decimal
	StopLoss     ConditionalLevel
	TakeProfit   ConditionalLevel
}

// Position is the unit of coordination: a long leg on one exchange hedged by
// a short leg on another. Positions are created in PENDING before any
// exchange call, mutated in place by their saga, and never deleted.
type Position struct {
	ID       string
	UserID   string
	Symbol   string
	Long     Leg
	Short    Leg
	Status   PositionStatus
	CondStat ConditionalStatus

	// FailureReason is a free-text diagnostic, set whenever the status moves
	// to FAILED or PARTIAL.
	FailureReason string
	CloseReason   CloseReason

	OpenedAt time.Time
	ClosedAt *time.Time
}

// Leg returns the requested leg by side.
func (p *Position) Leg(side LegSide) *Leg {
	if side == LegShort {
		return &p.Short
	}
	return &p.Long
}

// ConditionalOrderIDs returns every armed conditional order id, keyed by leg
// side, for cancellation and trigger matching.
func (p *Position) ConditionalOrderIDs() map[LegSide][]string {
	out := make(map[LegSide][]string, 2)
	for _, side := range []LegSide{LegLong, LegShort} {
		leg := p.Leg(side)
		var ids []string
		if leg.StopLoss.OrderID != "" {
			ids = append(ids, leg.StopLoss.OrderID)
		}
		if leg.TakeProfit.OrderID != "" {
			ids = append(ids, leg.TakeProfit.OrderID)
		}
		if len(ids) > 0 {
			out[side] = ids
		}
	}
	return out
}
