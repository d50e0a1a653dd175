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

// bitgetProtocol maps the normalized operations onto the Bitget v2 mix API.
// Requests are signed okx-style; every response rides in a {code, msg, data}
// envelope where "00000" is success.
type bitgetProtocol struct {
	tr *transport
}

const bitgetProduct = "USDT-FUTURES"

type bitgetEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func bitgetGet[T any](ctx context.Context, p *bitgetProtocol, path string, q url.Values) (T, error) {
	var out bitgetEnvelope[T]
	if err := p.tr.get(ctx, path, q, &out); err != nil {
		return out.Data, err
	}
	return out.Data, p.unwrap("GET "+path, out.Code, out.Msg)
}

func bitgetPost[T any](ctx context.Context, p *bitgetProtocol, path string, body any) (T, error) {
	var out bitgetEnvelope[T]
	if err := p.tr.post(ctx, path, body, &out); err != nil {
		return out.Data, err
	}
	return out.Data, p.unwrap("POST "+path, out.Code, out.Msg)
}

func (p *bitgetProtocol) unwrap(op, code, msg string) error {
	if code == "" || code == "00000" {
		return nil
	}
	return &domain.ExchangeAPIError{
		Exchange: "bitget", Op: op,
		Err: fmt.Errorf("code %s: %s", code, msg),
	}
}

func (p *bitgetProtocol) createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	body := map[string]any{
		"symbol":      symbol,
		"productType": bitgetProduct,
		"marginMode":  "crossed",
		"marginCoin":  "USDT",
		"orderType":   "market",
		"side":        lowerSide(side),
		"size":        qty.String(),
	}
	if ro, ok := params["reduceOnly"].(bool); ok && ro {
		body["reduceOnly"] = "YES"
	}

	data, err := bitgetPost[struct {
		OrderID string `json:"orderId"`
	}](ctx, p, "/api/v2/mix/order/place-order", body)
	if err != nil {
		return domain.OrderAck{}, err
	}
	return domain.OrderAck{ID: data.OrderID, Side: side}, nil
}

func (p *bitgetProtocol) fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("productType", bitgetProduct)
	q.Set("orderId", id)

	data, err := bitgetGet[struct {
		OrderID    string `json:"orderId"`
		Side       string `json:"side"`
		PriceAvg   string `json:"priceAvg"`
		BaseVolume string `json:"baseVolume"`
		Fee        string `json:"fee"`
		State      string `json:"state"`
		CTime      string `json:"cTime"`
	}](ctx, p, "/api/v2/mix/order/detail", q)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ctime, _ := strconv.ParseInt(data.CTime, 10, 64)
	return domain.OrderAck{
		ID:           data.OrderID,
		Side:         sideFromString(data.Side),
		AveragePrice: dec(data.PriceAvg),
		FilledQty:    dec(data.BaseVolume),
		Fee:          dec(data.Fee).Abs(),
		Status:       data.State,
		CreatedAt:    msTime(ctime),
	}, nil
}

func (p *bitgetProtocol) myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("productType", bitgetProduct)
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	data, err := bitgetGet[struct {
		FillList []struct {
			TradeID  string `json:"tradeId"`
			OrderID  string `json:"orderId"`
			Side     string `json:"side"`
			Price    string `json:"price"`
			BaseVol  string `json:"baseVolume"`
			Fee      string `json:"fee"`
			CTime    string `json:"cTime"`
		} `json:"fillList"`
	}](ctx, p, "/api/v2/mix/order/fills", q)
	if err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(data.FillList))
	for _, t := range data.FillList {
		ctime, _ := strconv.ParseInt(t.CTime, 10, 64)
		fills = append(fills, domain.Fill{
			ID:      t.TradeID,
			OrderID: t.OrderID,
			Side:    sideFromString(t.Side),
			Price:   dec(t.Price),
			Qty:     dec(t.BaseVol),
			Fee:     dec(t.Fee).Abs(),
			Time:    msTime(ctime),
		})
	}
	return fills, nil
}

func (p *bitgetProtocol) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("productType", bitgetProduct)
	q.Set("marginCoin", asset)

	data, err := bitgetGet[[]struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
	}](ctx, p, "/api/v2/mix/account/accounts", q)
	if err != nil {
		return decimal.Zero, err
	}
	for _, a := range data {
		if a.MarginCoin == asset {
			return dec(a.Available), nil
		}
	}
	return decimal.Zero, nil
}

func (p *bitgetProtocol) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("productType", bitgetProduct)

	data, err := bitgetGet[[]struct {
		MarkPrice string `json:"markPrice"`
	}](ctx, p, "/api/v2/mix/market/symbol-price", q)
	if err != nil {
		return decimal.Zero, err
	}
	if len(data) == 0 {
		return decimal.Zero, domain.ErrNotFound
	}
	return dec(data[0].MarkPrice), nil
}

func (p *bitgetProtocol) markets(ctx context.Context) (map[string]domain.Market, error) {
	q := url.Values{}
	q.Set("productType", bitgetProduct)

	data, err := bitgetGet[[]struct {
		Symbol       string `json:"symbol"`
		SymbolStatus string `json:"symbolStatus"`
		PricePlace   string `json:"pricePlace"`
		VolumePlace  string `json:"volumePlace"`
		MinTradeNum  string `json:"minTradeNum"`
		SizeMultiplier string `json:"sizeMultiplier"`
	}](ctx, p, "/api/v2/mix/market/contracts", q)
	if err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(data))
	for _, c := range data {
		if c.SymbolStatus != "normal" {
			continue
		}
		unified, err := unifiedSymbol("bitget", c.Symbol)
		if err != nil {
			continue
		}
		pricePlace, _ := strconv.ParseInt(c.PricePlace, 10, 32)
		volumePlace, _ := strconv.ParseInt(c.VolumePlace, 10, 32)
		markets[unified] = domain.Market{
			Symbol:          unified,
			ContractSize:    dec(c.SizeMultiplier),
			PricePrecision:  int32(pricePlace),
			AmountPrecision: int32(volumePlace),
			MinQty:          dec(c.MinTradeNum),
		}
	}
	return markets, nil
}

func (p *bitgetProtocol) positionMode(ctx context.Context) (bool, error) {
	q := url.Values{}
	q.Set("productType", bitgetProduct)

	data, err := bitgetGet[[]struct {
		PosMode string `json:"posMode"`
	}](ctx, p, "/api/v2/mix/account/accounts", q)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, domain.ErrNotFound
	}
	return data[0].PosMode == "hedge_mode", nil
}

func (p *bitgetProtocol) accountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return domain.AccountConfig{}, &domain.ExchangeAPIError{
		Exchange: "bitget", Op: "accountConfig", Err: errProbeUnsupported,
	}
}

func (p *bitgetProtocol) placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	body := map[string]any{
		"symbol":       symbol,
		"productType":  bitgetProduct,
		"marginMode":   "crossed",
		"marginCoin":   "USDT",
		"planType":     "normal_plan",
		"orderType":    "market",
		"triggerType":  "mark_price",
		"side":         lowerSide(req.Side),
		"size":         req.Qty.String(),
		"triggerPrice": req.TriggerPrice.String(),
	}
	if req.ReduceOnly {
		body["reduceOnly"] = "YES"
	}

	data, err := bitgetPost[struct {
		OrderID string `json:"orderId"`
	}](ctx, p, "/api/v2/mix/order/place-plan-order", body)
	if err != nil {
		return "", err
	}
	return data.OrderID, nil
}

func (p *bitgetProtocol) cancelConditional(ctx context.Context, symbol, orderID string) (bool, error) {
	body := map[string]any{
		"symbol":      symbol,
		"productType": bitgetProduct,
		"orderId":     orderID,
	}
	if _, err := bitgetPost[struct{}](ctx, p, "/api/v2/mix/order/cancel-plan-order", body); err != nil {
		return false, err
	}
	return true, nil
}

func (p *bitgetProtocol) listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("productType", bitgetProduct)
	q.Set("planType", "normal_plan")

	data, err := bitgetGet[struct {
		EntrustedList []struct {
			OrderID      string `json:"orderId"`
			Side         string `json:"side"`
			Size         string `json:"size"`
			TriggerPrice string `json:"triggerPrice"`
		} `json:"entrustedList"`
	}](ctx, p, "/api/v2/mix/order/orders-plan-pending", q)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.ConditionalOrder, 0, len(data.EntrustedList))
	for _, o := range data.EntrustedList {
		orders = append(orders, domain.ConditionalOrder{
			ID:           o.OrderID,
			Side:         sideFromString(o.Side),
			TriggerPrice: dec(o.TriggerPrice),
			Qty:          dec(o.Size),
		})
	}
	return orders, nil
}

func (p *bitgetProtocol) fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("productType", bitgetProduct)
	q.Set("businessType", "contract_settle_fee")
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	data, err := bitgetGet[struct {
		Bills []struct {
			BillID string `json:"billId"`
			Amount string `json:"amount"`
			CTime  string `json:"cTime"`
		} `json:"bills"`
	}](ctx, p, "/api/v2/mix/account/bill", q)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.FundingPayment, 0, len(data.Bills))
	for _, b := range data.Bills {
		ctime, _ := strconv.ParseInt(b.CTime, 10, 64)
		payments = append(payments, domain.FundingPayment{
			Amount:     dec(b.Amount),
			PaidAt:     msTime(ctime),
			ExternalID: b.BillID,
		})
	}
	return payments, nil
}
