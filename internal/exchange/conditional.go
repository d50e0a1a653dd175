package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// ConditionalAdapter places and cancels stop-loss/take-profit trigger orders
// for one exchange. Implementations normalize the exchange's trigger taxonomy
// to the two semantic kinds; all failures are surfaced to the caller, which
// treats them as non-fatal to the position's core status.
type ConditionalAdapter interface {
	SetStopLoss(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error)
	SetTakeProfit(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error)
	Cancel(ctx context.Context, symbol, orderID string) (bool, error)
	List(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error)
}

// ConditionalAdapter builds the trigger-order adapter for this variant bound
// to an authenticated session, the instrument's metadata and the detected
// account mode.
func (v Variant) ConditionalAdapter(sess domain.TradingSession, market domain.Market, mode domain.AccountMode) ConditionalAdapter {
	switch v.Family {
	case FamilyBinance:
		return &binanceConditional{sess: sess, hedge: mode.HedgeMode}
	case FamilyOKX:
		return &okxConditional{sess: sess, hedge: mode.HedgeMode}
	case FamilyBingX:
		return &bingxConditional{sess: sess, market: market, hedge: mode.HedgeMode}
	default:
		return &genericConditional{sess: sess, hedge: mode.HedgeMode}
	}
}

// ClassifyTrigger infers the semantic kind of a generic trigger order from
// its price relative to the entry price: below entry on a long is a stop
// loss, above is a take profit, mirrored for a short. This is a heuristic; it
// can misclassify when only one conditional exists or the position was
// resized after arming. Callers must treat the result as best effort.
func ClassifyTrigger(triggerPrice, entryPrice decimal.Decimal, side domain.LegSide) domain.ConditionalKind {
	below := triggerPrice.LessThan(entryPrice)
	if side == domain.LegLong {
		if below {
			return domain.ConditionalStopLoss
		}
		return domain.ConditionalTakeProfit
	}
	if below {
		return domain.ConditionalTakeProfit
	}
	return domain.ConditionalStopLoss
}

// triggerRequest assembles the normalized request shared by every adapter:
// the order's literal side flattens the leg, and in one-way mode the close
// intent is tagged reduceOnly.
func triggerRequest(kind domain.ConditionalKind, orderType string, side domain.LegSide, qty, triggerPrice decimal.Decimal, hedge bool) domain.ConditionalRequest {
	req := domain.ConditionalRequest{
		Kind:         kind,
		OrderType:    orderType,
		Side:         side.CloseSide(),
		Qty:          qty,
		TriggerPrice: triggerPrice,
		Params:       domain.OrderParams{},
	}
	if hedge {
		req.PositionSide = positionSideTag(side)
	} else {
		req.ReduceOnly = true
	}
	return req
}
