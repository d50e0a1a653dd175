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

// okxProtocol maps the normalized operations onto the OKX v5 API. Every
// response rides in a {code, msg, data} envelope; a non-zero code is a
// rejection even on HTTP 200.
type okxProtocol struct {
	tr *transport
}

func (p *okxProtocol) unwrap(op string, code, msg string) error {
	if code == "" || code == "0" {
		return nil
	}
	return &domain.ExchangeAPIError{
		Exchange: "okx", Op: op,
		Err: fmt.Errorf("code %s: %s", code, msg),
	}
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func okxGet[T any](ctx context.Context, p *okxProtocol, path string, q url.Values) ([]T, error) {
	var out okxEnvelope[T]
	if err := p.tr.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	if err := p.unwrap("GET "+path, out.Code, out.Msg); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func okxPost[T any](ctx context.Context, p *okxProtocol, path string, body any) ([]T, error) {
	var out okxEnvelope[T]
	if err := p.tr.post(ctx, path, body, &out); err != nil {
		return nil, err
	}
	if err := p.unwrap("POST "+path, out.Code, out.Msg); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (p *okxProtocol) createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	body := map[string]any{
		"instId":  symbol,
		"ordType": "market",
		"side":    lowerSide(side),
		"sz":      qty.String(),
	}
	for k, v := range params {
		body[k] = v
	}

	data, err := okxPost[struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}](ctx, p, "/api/v5/trade/order", body)
	if err != nil {
		return domain.OrderAck{}, err
	}
	if len(data) == 0 {
		return domain.OrderAck{}, &domain.ExchangeAPIError{
			Exchange: "okx", Op: "createOrder", Err: fmt.Errorf("empty order response"),
		}
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return domain.OrderAck{}, &domain.ExchangeAPIError{
			Exchange: "okx", Op: "createOrder",
			Err: fmt.Errorf("code %s: %s", data[0].SCode, data[0].SMsg),
		}
	}
	// the ack carries no fill data; the price fetcher re-fetches
	return domain.OrderAck{ID: data[0].OrdID, Side: side}, nil
}

func (p *okxProtocol) fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("ordId", id)

	data, err := okxGet[struct {
		OrdID    string `json:"ordId"`
		Side     string `json:"side"`
		AvgPx    string `json:"avgPx"`
		AccFillS string `json:"accFillSz"`
		Fee      string `json:"fee"`
		State    string `json:"state"`
		CTime    string `json:"cTime"`
	}](ctx, p, "/api/v5/trade/order", q)
	if err != nil {
		return domain.OrderAck{}, err
	}
	if len(data) == 0 {
		return domain.OrderAck{}, domain.ErrNotFound
	}
	o := data[0]
	ctime, _ := strconv.ParseInt(o.CTime, 10, 64)
	return domain.OrderAck{
		ID:           o.OrdID,
		Side:         sideFromString(o.Side),
		AveragePrice: dec(o.AvgPx),
		FilledQty:    dec(o.AccFillS),
		// okx reports fees negative from the account's perspective
		Fee:       dec(o.Fee).Abs(),
		Status:    o.State,
		CreatedAt: msTime(ctime),
	}, nil
}

func (p *okxProtocol) myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", symbol)
	if !since.IsZero() {
		q.Set("begin", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	data, err := okxGet[struct {
		TradeID string `json:"tradeId"`
		OrdID   string `json:"ordId"`
		Side    string `json:"side"`
		FillPx  string `json:"fillPx"`
		FillSz  string `json:"fillSz"`
		Fee     string `json:"fee"`
		TS      string `json:"ts"`
	}](ctx, p, "/api/v5/trade/fills", q)
	if err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(data))
	for _, t := range data {
		ts, _ := strconv.ParseInt(t.TS, 10, 64)
		fills = append(fills, domain.Fill{
			ID:      t.TradeID,
			OrderID: t.OrdID,
			Side:    sideFromString(t.Side),
			Price:   dec(t.FillPx),
			Qty:     dec(t.FillSz),
			Fee:     dec(t.Fee).Abs(),
			Time:    msTime(ts),
		})
	}
	return fills, nil
}

func (p *okxProtocol) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ccy", asset)

	data, err := okxGet[struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}](ctx, p, "/api/v5/account/balance", q)
	if err != nil {
		return decimal.Zero, err
	}
	for _, acct := range data {
		for _, d := range acct.Details {
			if d.Ccy == asset {
				return dec(d.AvailBal), nil
			}
		}
	}
	return decimal.Zero, nil
}

func (p *okxProtocol) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", symbol)

	data, err := okxGet[struct {
		MarkPx string `json:"markPx"`
	}](ctx, p, "/api/v5/public/mark-price", q)
	if err != nil {
		return decimal.Zero, err
	}
	if len(data) == 0 {
		return decimal.Zero, domain.ErrNotFound
	}
	return dec(data[0].MarkPx), nil
}

func (p *okxProtocol) markets(ctx context.Context) (map[string]domain.Market, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")

	data, err := okxGet[struct {
		InstID string `json:"instId"`
		State  string `json:"state"`
		CtVal  string `json:"ctVal"`
		TickSz string `json:"tickSz"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
	}](ctx, p, "/api/v5/public/instruments", q)
	if err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(data))
	for _, inst := range data {
		if inst.State != "live" {
			continue
		}
		unified, err := unifiedSymbol("okx", inst.InstID)
		if err != nil {
			continue
		}
		markets[unified] = domain.Market{
			Symbol:          unified,
			ContractSize:    dec(inst.CtVal),
			PricePrecision:  stepPrecision(inst.TickSz),
			AmountPrecision: stepPrecision(inst.LotSz),
			MinQty:          dec(inst.MinSz),
		}
	}
	return markets, nil
}

func (p *okxProtocol) positionMode(ctx context.Context) (bool, error) {
	cfg, err := p.accountConfig(ctx)
	if err != nil {
		return false, err
	}
	return cfg.HedgeMode, nil
}

func (p *okxProtocol) accountConfig(ctx context.Context) (domain.AccountConfig, error) {
	data, err := okxGet[struct {
		PosMode string `json:"posMode"`
		AcctLv  string `json:"acctLv"`
	}](ctx, p, "/api/v5/account/config", url.Values{})
	if err != nil {
		return domain.AccountConfig{}, err
	}
	if len(data) == 0 {
		return domain.AccountConfig{}, domain.ErrNotFound
	}
	cfg := domain.AccountConfig{
		HedgeMode:     data[0].PosMode == "long_short_mode",
		MarginVariant: domain.MarginStandard,
	}
	// account levels 3+ are the multi-currency/portfolio unified account
	if lv, _ := strconv.Atoi(data[0].AcctLv); lv >= 3 {
		cfg.MarginVariant = domain.MarginUnified
	}
	return cfg, nil
}

func (p *okxProtocol) placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	body := map[string]any{
		"instId":  symbol,
		"ordType": req.OrderType,
		"side":    lowerSide(req.Side),
		"sz":      req.Qty.String(),
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	for k, v := range req.Params {
		body[k] = v
	}

	data, err := okxPost[struct {
		AlgoID string `json:"algoId"`
		SCode  string `json:"sCode"`
		SMsg   string `json:"sMsg"`
	}](ctx, p, "/api/v5/trade/order-algo", body)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", &domain.ExchangeAPIError{
			Exchange: "okx", Op: "placeConditional", Err: fmt.Errorf("empty algo response"),
		}
	}
	if data[0].SCode != "" && data[0].SCode != "0" {
		return "", &domain.ExchangeAPIError{
			Exchange: "okx", Op: "placeConditional",
			Err: fmt.Errorf("code %s: %s", data[0].SCode, data[0].SMsg),
		}
	}
	return data[0].AlgoID, nil
}

func (p *okxProtocol) cancelConditional(ctx context.Context, symbol, orderID string) (bool, error) {
	body := []map[string]string{{"instId": symbol, "algoId": orderID}}
	_, err := okxPost[struct {
		AlgoID string `json:"algoId"`
	}](ctx, p, "/api/v5/trade/cancel-algos", body)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *okxProtocol) listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	q := url.Values{}
	q.Set("ordType", "trigger")
	q.Set("instId", symbol)

	data, err := okxGet[struct {
		AlgoID    string `json:"algoId"`
		Side      string `json:"side"`
		PosSide   string `json:"posSide"`
		TriggerPx string `json:"triggerPx"`
		Sz        string `json:"sz"`
	}](ctx, p, "/api/v5/trade/orders-algo-pending", q)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.ConditionalOrder, 0, len(data))
	for _, o := range data {
		orders = append(orders, domain.ConditionalOrder{
			ID:           o.AlgoID,
			Side:         sideFromString(o.Side),
			PositionSide: o.PosSide,
			TriggerPrice: dec(o.TriggerPx),
			Qty:          dec(o.Sz),
		})
	}
	return orders, nil
}

func (p *okxProtocol) fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", symbol)
	q.Set("type", "8") // funding fee bills
	if !since.IsZero() {
		q.Set("begin", strconv.FormatInt(since.UnixMilli(), 10))
	}

	data, err := okxGet[struct {
		BillID string `json:"billId"`
		BalChg string `json:"balChg"`
		TS     string `json:"ts"`
	}](ctx, p, "/api/v5/account/bills", q)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.FundingPayment, 0, len(data))
	for _, b := range data {
		ts, _ := strconv.ParseInt(b.TS, 10, 64)
		payments = append(payments, domain.FundingPayment{
			Amount:     dec(b.BalChg),
			PaidAt:     msTime(ts),
			ExternalID: b.BillID,
		})
	}
	return payments, nil
}
