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

// binanceProtocol maps the normalized operations onto the binance USDⓈ-M
// futures API. Binance signs the query string, including POST bodies.
type binanceProtocol struct {
	tr *transport
}

type binanceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
	StopPrice   string `json:"stopPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

func (o binanceOrder) ack() domain.OrderAck {
	return domain.OrderAck{
		ID:           strconv.FormatInt(o.OrderID, 10),
		Side:         sideFromString(o.Side),
		AveragePrice: dec(o.AvgPrice),
		FilledQty:    dec(o.ExecutedQty),
		Status:       o.Status,
		CreatedAt:    msTime(o.UpdateTime),
	}
}

func (p *binanceProtocol) createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", upperSide(side))
	q.Set("type", "MARKET")
	q.Set("quantity", qty.String())
	q.Set("newOrderRespType", "RESULT")
	applyParams(q, params)

	var out binanceOrder
	if err := p.tr.postQuery(ctx, "/fapi/v1/order", q, &out); err != nil {
		return domain.OrderAck{}, err
	}
	return out.ack(), nil
}

func (p *binanceProtocol) fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", id)

	var out binanceOrder
	if err := p.tr.get(ctx, "/fapi/v1/order", q, &out); err != nil {
		return domain.OrderAck{}, err
	}
	return out.ack(), nil
}

func (p *binanceProtocol) myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []struct {
		ID         int64  `json:"id"`
		OrderID    int64  `json:"orderId"`
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
		Side       string `json:"side"`
		Time       int64  `json:"time"`
	}
	if err := p.tr.get(ctx, "/fapi/v1/userTrades", q, &out); err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(out))
	for _, t := range out {
		fills = append(fills, domain.Fill{
			ID:      strconv.FormatInt(t.ID, 10),
			OrderID: strconv.FormatInt(t.OrderID, 10),
			Side:    sideFromString(t.Side),
			Price:   dec(t.Price),
			Qty:     dec(t.Qty),
			Fee:     dec(t.Commission),
			Time:    msTime(t.Time),
		})
	}
	return fills, nil
}

func (p *binanceProtocol) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := p.tr.get(ctx, "/fapi/v2/balance", url.Values{}, &out); err != nil {
		return decimal.Zero, err
	}
	for _, b := range out {
		if b.Asset == asset {
			return dec(b.AvailableBalance), nil
		}
	}
	return decimal.Zero, nil
}

func (p *binanceProtocol) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := p.tr.get(ctx, "/fapi/v1/premiumIndex", q, &out); err != nil {
		return decimal.Zero, err
	}
	return dec(out.MarkPrice), nil
}

func (p *binanceProtocol) markets(ctx context.Context) (map[string]domain.Market, error) {
	var out struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			Status            string `json:"status"`
			ContractType      string `json:"contractType"`
			PricePrecision    int32  `json:"pricePrecision"`
			QuantityPrecision int32  `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := p.tr.get(ctx, "/fapi/v1/exchangeInfo", url.Values{}, &out); err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(out.Symbols))
	for _, s := range out.Symbols {
		if s.Status != "TRADING" || s.ContractType != "PERPETUAL" {
			continue
		}
		unified, err := unifiedSymbol("binance", s.Symbol)
		if err != nil {
			continue
		}
		m := domain.Market{
			Symbol:          unified,
			ContractSize:    decimal.NewFromInt(1),
			PricePrecision:  s.PricePrecision,
			AmountPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				m.MinQty = dec(f.MinQty)
			}
		}
		markets[unified] = m
	}
	return markets, nil
}

func (p *binanceProtocol) positionMode(ctx context.Context) (bool, error) {
	var out struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := p.tr.get(ctx, "/fapi/v1/positionSide/dual", url.Values{}, &out); err != nil {
		return false, err
	}
	return out.DualSidePosition, nil
}

// accountConfig has no distinct endpoint on binance; the primary probe is
// authoritative and the detector falls through to the safe default when it
// fails.
func (p *binanceProtocol) accountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return domain.AccountConfig{}, &domain.ExchangeAPIError{
		Exchange: "binance", Op: "accountConfig",
		Err: errProbeUnsupported,
	}
}

func (p *binanceProtocol) placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", upperSide(req.Side))
	q.Set("type", req.OrderType)
	q.Set("quantity", req.Qty.String())
	if req.PositionSide != "" {
		q.Set("positionSide", req.PositionSide)
	}
	if req.ReduceOnly {
		q.Set("reduceOnly", "true")
	}
	applyParams(q, req.Params)

	var out binanceOrder
	if err := p.tr.postQuery(ctx, "/fapi/v1/order", q, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.OrderID, 10), nil
}

func (p *binanceProtocol) cancelConditional(ctx context.Context, symbol, orderID string) (bool, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	if err := p.tr.del(ctx, "/fapi/v1/order", q, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (p *binanceProtocol) listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var out []binanceOrder
	if err := p.tr.get(ctx, "/fapi/v1/openOrders", q, &out); err != nil {
		return nil, err
	}

	var orders []domain.ConditionalOrder
	for _, o := range out {
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

func (p *binanceProtocol) fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("incomeType", "FUNDING_FEE")
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var out []struct {
		Income string `json:"income"`
		Time   int64  `json:"time"`
		TranID int64  `json:"tranId"`
	}
	if err := p.tr.get(ctx, "/fapi/v1/income", q, &out); err != nil {
		return nil, err
	}

	payments := make([]domain.FundingPayment, 0, len(out))
	for _, e := range out {
		payments = append(payments, domain.FundingPayment{
			Amount:     dec(e.Income),
			PaidAt:     msTime(e.Time),
			ExternalID: strconv.FormatInt(e.TranID, 10),
		})
	}
	return payments, nil
}

// applyParams copies the variant-built parameter bag onto the query string.
func applyParams(q url.Values, params domain.OrderParams) {
	for k, v := range params {
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		case bool:
			q.Set(k, strconv.FormatBool(val))
		default:
			q.Set(k, fmt.Sprint(val))
		}
	}
}
