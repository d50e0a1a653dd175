package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// bingxConditional uses native trigger types but requires prices and
// quantities formatted as strings at the instrument's declared precision;
// over-precise values are rejected by the API.
type bingxConditional struct {
	sess   domain.TradingSession
	market domain.Market
	hedge  bool
}

func (a *bingxConditional) SetStopLoss(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	return a.place(ctx, symbol, domain.ConditionalStopLoss, "STOP_MARKET", side, qty, triggerPrice)
}

func (a *bingxConditional) SetTakeProfit(ctx context.Context, symbol string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	return a.place(ctx, symbol, domain.ConditionalTakeProfit, "TAKE_PROFIT_MARKET", side, qty, triggerPrice)
}

func (a *bingxConditional) place(ctx context.Context, symbol string, kind domain.ConditionalKind, orderType string, side domain.LegSide, qty, triggerPrice decimal.Decimal) (string, error) {
	price := triggerPrice.Round(a.market.PricePrecision)
	amount := qty.Round(a.market.AmountPrecision)

	req := triggerRequest(kind, orderType, side, amount, price, a.hedge)
	req.Params["stopPrice"] = price.StringFixed(a.market.PricePrecision)
	req.Params["quantity"] = amount.StringFixed(a.market.AmountPrecision)
	return a.sess.PlaceConditionalOrder(ctx, symbol, req)
}

func (a *bingxConditional) Cancel(ctx context.Context, symbol, orderID string) (bool, error) {
	return a.sess.CancelConditionalOrder(ctx, symbol, orderID)
}

func (a *bingxConditional) List(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	return a.sess.ListConditionalOrders(ctx, symbol)
}
