package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// okxConditional uses the generic algo trigger order. The API does not
// distinguish stop-loss from take-profit, so listed orders are returned with
// an empty kind and callers classify them with ClassifyTrigger against the
// leg's entry price.
type okxConditional struct {
	sess  domain.TradingSession
	hedge bool
}

func (a *okxConditional) SetStopLoss(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	return a.place(ctx, symbol, domain.ConditionalStopLoss, side, qty, triggerPrice)
}

func (a *okxConditional) SetTakeProfit(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	return a.place(ctx, symbol, domain.ConditionalTakeProfit, side, qty, triggerPrice)
}

func (a *okxConditional) place(ctx context.Context, symbol string, kind domain.ConditionalKind, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	req := triggerRequest(kind, "trigger", side, qty, triggerPrice, a.hedge)
	req.Params["tdMode"] = "cross"
	req.Params["triggerPx"] = triggerPrice.String()
	req.Params["orderPx"] = "-1" // market execution on trigger
	if a.hedge {
		req.Params["posSide"] = string(side)
		req.PositionSide = string(side)
	} else {
		req.Params["posSide"] = "net"
	}
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *okxConditional) Cancel(ctx context.Context, symbol, orderID string) (bool, error) {
	return a.sess.CancelConditionalOrder(ctx, symbol, orderID)
}

func (a *okxConditional) List(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	orders, err := a.sess.ListConditionalOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		// kind is not reported by the trigger API; leave it empty for the
		// caller to classify against the entry price
		orders[i].Kind = ""
	}
	return orders, nil
}
