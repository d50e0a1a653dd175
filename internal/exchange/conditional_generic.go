package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// genericConditional is the fallback for exchanges without a dedicated
// trigger taxonomy: a plain trigger order with the kind carried in the
// request so the session adapter can map it to whatever the wire supports.
type genericConditional struct {
	sess  domain.TradingSession
	hedge bool
}

func (a *genericConditional) SetStopLoss(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	req := triggerRequest(domain.ConditionalStopLoss, "trigger", side, qty, triggerPrice, a.hedge)
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *genericConditional) SetTakeProfit(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	req := triggerRequest(domain.ConditionalTakeProfit, "trigger", side, qty, triggerPrice, a.hedge)
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *genericConditional) Cancel(ctx context.Context, symbol, orderID string) (bool, error) {
	return a.sess.CancelConditionalOrder(ctx, symbol, orderID)
}

func (a *genericConditional) List(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	return a.sess.ListConditionalOrders(ctx, symbol)
}
