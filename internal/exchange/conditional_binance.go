package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// binanceConditional uses the native STOP_MARKET and TAKE_PROFIT_MARKET
// order types, so listed orders carry their kind explicitly.
type binanceConditional struct {
	sess  domain.TradingSession
	hedge bool
}

func (a *binanceConditional) SetStopLoss(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	req := triggerRequest(domain.ConditionalStopLoss, "STOP_MARKET", side, qty, triggerPrice, a.hedge)
	req.Params["stopPrice"] = triggerPrice.String()
	req.Params["workingType"] = "MARK_PRICE"
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *binanceConditional) SetTakeProfit(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	req := triggerRequest(domain.ConditionalTakeProfit, "TAKE_PROFIT_MARKET", side, qty, triggerPrice, a.hedge)
	req.Params["stopPrice"] = triggerPrice.String()
	req.Params["workingType"] = "MARK_PRICE"
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *binanceConditional) Cancel(ctx context.Context, symbol, orderID string) (bool, error) {
	return a.sess.CancelConditionalOrder(ctx, symbol, orderID)
}

func (a *binanceConditional) List(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	return a.sess.ListConditionalOrders(ctx, symbol)
}
