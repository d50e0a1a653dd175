package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// bingxProtocol maps the normalized operations onto the BingX perpetual swap
// API: binance-style query signing with a {code, msg, data} envelope.
type bingxProtocol struct {
	tr *transport
}

type bingxEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func bingxCall[T any](ctx context.Context, p *bingxProtocol, method, path string, q url.Values) (T, error) {
	var out bingxEnvelope[T]
	var err error
	switch method {
	case "POST":
		err = p.tr.postQuery(ctx, path, q, &out)
	case "DELETE":
		err = p.tr.del(ctx, path, q, &out)
	default:
		err = p.tr.get(ctx, path, q, &out)
	}
	if err != nil {
		return out.Data, err
	}
	if out.Code != 0 {
		return out.Data, &domain.ExchangeAPIError{
			Exchange: "bingx", Op: method + " " + path,
			Err: fmt.Errorf("code %d: %s", out.Code, out.Msg),
		}
	}
	return out.Data, nil
}

type bingxOrder struct {
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
	Commission  string `json:"commission"`
	StopPrice   string `json:"stopPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

func (o bingxOrder) ack() domain.OrderAck {
	return domain.OrderAck{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Side:         sideFromString(o.Side),
		AveragePrice: dec(o.AvgPrice),
		FilledQty:    dec(o.ExecutedQty),
		Fee:          dec(o.Commission).Abs(),
		Status:       o.Status,
		CreatedAt:    msTime(o.UpdateTime),
	}
}

func (p *bingxProtocol) createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", upperSide(side))
	q.Set("type", "MARKET")
	q.Set("quantity", qty.String())
	applyParams(q, params)

	data, err := bingxCall[struct {
		Order bingxOrder `json:"order"`
	}](ctx, p, "POST", "/openApi/swap/v2/trade/order", q)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack := data.Order.ack()
	if ack.Side == "" {
		ack.Side = side
	}
	return ack, nil
}

func (p *bingxProtocol) fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)

	data, err := bingxCall[struct {
		Order bingxOrder `json:"order"`
	}](ctx, p, "GET", "/openApi/swap/v2/trade/order", q)
	if err != nil {
		return domain.OrderAck{}, err
	}
	return data.Order.ack(), nil
}

func (p *bingxProtocol) myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if !since.IsZero() {
		q.Set("startTs", strconv.FormatInt(since.UnixMilli(), 10))
	}

	data, err := bingxCall[struct {
		FillOrders []struct {
			FilledTm   string `json:"filledTm"`
			TradeID    string `json:"tradeId"`
			OrderID    int64  `json:"orderId"`
			Side       string `json:"side"`
			Price      string `json:"price"`
			Volume     string `json:"volume"`
			Commission string `json:"commission"`
		} `json:"fill_orders"`
	}](ctx, p, "GET", "/openApi/swap/v2/trade/allFillOrders", q)
	if err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(data.FillOrders))
	for _, t := range data.FillOrders {
		ts, _ := time.Parse(time.RFC3339, t.FilledTm)
		fills = append(fills, domain.Fill{
			ID:      t.TradeID,
			OrderID: strconv.FormatInt(t.OrderID, 10),
			Side:    sideFromString(t.Side),
			Price:   dec(t.Price),
			Qty:     dec(t.Volume),
			Fee:     dec(t.Commission).Abs(),
			Time:    ts,
		})
	}
	if limit > 0 && len(fills) > limit {
		fills = fills[:limit]
	}
	return fills, nil
}

func (p *bingxProtocol) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	data, err := bingxCall[struct {
		Balance struct {
			Asset           string `json:"asset"`
			AvailableMargin string `json:"availableMargin"`
		} `json:"balance"`
	}](ctx, p, "GET", "/openApi/swap/v2/user/balance", url.Values{})
	if err != nil {
		return decimal.Zero, err
	}
	if data.Balance.Asset != asset {
		return decimal.Zero, nil
	}
	return dec(data.Balance.AvailableMargin), nil
}

func (p *bingxProtocol) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	data, err := bingxCall[struct {
		MarkPrice string `json:"markPrice"`
	}](ctx, p, "GET", "/openApi/swap/v2/quote/premiumIndex", q)
	if err != nil {
		return decimal.Zero, err
	}
	return dec(data.MarkPrice), nil
}

func (p *bingxProtocol) markets(ctx context.Context) (map[string]domain.Market, error) {
	data, err := bingxCall[[]struct {
		Symbol            string `json:"symbol"`
		Status            int    `json:"status"`
		PricePrecision    int32  `json:"pricePrecision"`
		QuantityPrecision int32  `json:"quantityPrecision"`
		TradeMinQuantity  string `json:"tradeMinQuantity"`
	}](ctx, p, "GET", "/openApi/swap/v2/quote/contracts", url.Values{})
	if err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(data))
	for _, c := range data {
		if c.Status != 1 {
			continue
		}
		unified, err := unifiedSymbol("bingx", c.Symbol)
		if err != nil {
			continue
		}
		markets[unified] = domain.Market{
			Symbol:          unified,
			ContractSize:    decimal.NewFromInt(1),
			PricePrecision:  c.PricePrecision,
			AmountPrecision: c.QuantityPrecision,
			MinQty:          dec(c.TradeMinQuantity),
		}
	}
	return markets, nil
}

func (p *bingxProtocol) positionMode(ctx context.Context) (bool, error) {
	data, err := bingxCall[struct {
		DualSidePosition string `json:"dualSidePosition"`
	}](ctx, p, "GET", "/openApi/swap/v1/positionSide/dual", url.Values{})
	if err != nil {
		return false, err
	}
	return data.DualSidePosition == "true", nil
}

func (p *bingxProtocol) accountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return domain.AccountConfig{}, &domain.ExchangeAPIError{
		Exchange: "bingx", Op: "accountConfig", Err: errProbeUnsupported,
	}
}

func (p *bingxProtocol) placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", upperSide(req.Side))
	q.Set("type", req.OrderType)
	if req.PositionSide != "" {
		q.Set("positionSide", req.PositionSide)
	}
	if req.ReduceOnly {
		q.Set("reduceOnly", "true")
	}
	applyParams(q, req.Params)
	if q.Get("quantity") == "" {
		q.Set("quantity", req.Qty.String())
	}
	if q.Get("stopPrice") == "" {
		q.Set("stopPrice", req.TriggerPrice.String())
	}

	data, err := bingxCall[struct {
		Order bingxOrder `json:"order"`
	}](ctx, p, "POST", "/openApi/swap/v2/trade/order", q)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(data.Order.OrderID, 10), nil
}

func (p *bingxProtocol) cancelConditional(ctx context.Context, symbol, orderID string) (bool, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	if _, err := bingxCall[struct{}](ctx, p, "DELETE", "/openApi/swap/v2/trade/order", q); err != nil {
		return false, err
	}
	return true, nil
}

func (p *bingxProtocol) listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	data, err := bingxCall[struct {
		Orders []bingxOrder `json:"orders"`
	}](ctx, p, "GET", "/openApi/swap/v2/trade/openOrders", q)
	if err != nil {
		return nil, err
	}

	var orders []domain.ConditionalOrder
	for _, o := range data.Orders {
		var kind domain.ConditionalKind
		switch o.Type {
		case "STOP_MARKET":
			kind = domain.ConditionalStopLoss
		case "TAKE_PROFIT_MARKET":
			kind = domain.ConditionalTakeProfit
		default:
			continue
		}
		orders = append(orders, domain.ConditionalOrder{
			ID:           strconv.FormatInt(o.OrderID, 10),
			Side:         sideFromString(o.Side),
			Kind:         kind,
			TriggerPrice: dec(o.StopPrice),
			Qty:          dec(o.ExecutedQty),
		})
	}
	return orders, nil
}

func (p *bingxProtocol) fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("incomeType", "FUNDING_FEE")
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	data, err := bingxCall[[]struct {
		Income string `json:"income"`
		Time   int64  `json:"time"`
		TranID string `json:"tranId"`
	}](ctx, p, "GET", "/openApi/swap/v2/user/income", q)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.FundingPayment, 0, len(data))
	for _, e := range data {
		payments = append(payments, domain.FundingPayment{
			Amount:     dec(e.Income),
			PaidAt:     msTime(e.Time),
			ExternalID: e.TranID,
		})
	}
	return payments, nil
}
