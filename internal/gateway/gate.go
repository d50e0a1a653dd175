package gateway

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// gateProtocol maps the normalized operations onto the Gate v4 USDT futures
// API. Gate carries direction in the sign of the contract size rather than a
// side field, and responds with bare JSON rather than an envelope.
type gateProtocol struct {
	tr *transport
}

const gateBase = "/api/v4/futures/usdt"

type gateOrder struct {
	ID         int64           `json:"id"`
	Contract   string          `json:"contract"`
	Size       decimal.Decimal `json:"size"`
	FillPrice  string          `json:"fill_price"`
	Status     string          `json:"status"`
	IsReduce   bool            `json:"is_reduce_only"`
	CreateTime float64         `json:"create_time"`
}

func (o gateOrder) ack() domain.OrderAck {
	side := domain.SideBuy
	if o.Size.IsNegative() {
		side = domain.SideSell
	}
	return domain.OrderAck{
		ID:           strconv.FormatInt(o.ID, 10),
		Side:         side,
		AveragePrice: dec(o.FillPrice),
		FilledQty:    o.Size.Abs(),
		Status:       o.Status,
		CreatedAt:    time.Unix(int64(o.CreateTime), 0),
	}
}

// signedSize carries direction in the sign: positive opens or adds long
// exposure, negative short.
func signedSize(side domain.Side, qty decimal.Decimal) decimal.Decimal {
	if side == domain.SideSell {
		return qty.Neg()
	}
	return qty
}

func (p *gateProtocol) createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	body := map[string]any{
		"contract": symbol,
		"size":     signedSize(side, qty),
		"price":    "0", // market execution
		"tif":      "ioc",
	}
	if ro, ok := params["reduceOnly"].(bool); ok && ro {
		body["reduce_only"] = true
	}

	var out gateOrder
	if err := p.tr.post(ctx, gateBase+"/orders", body, &out); err != nil {
		return domain.OrderAck{}, err
	}
	return out.ack(), nil
}

func (p *gateProtocol) fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	var out gateOrder
	if err := p.tr.get(ctx, gateBase+"/orders/"+url.PathEscape(id), url.Values{}, &out); err != nil {
		return domain.OrderAck{}, err
	}
	return out.ack(), nil
}

func (p *gateProtocol) myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	q := url.Values{}
	q.Set("contract", symbol)
	if !since.IsZero() {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []struct {
		ID         int64           `json:"id"`
		OrderID    string          `json:"order_id"`
		Price      string          `json:"price"`
		Size       decimal.Decimal `json:"size"`
		Fee        string          `json:"fee"`
		CreateTime float64         `json:"create_time"`
	}
	if err := p.tr.get(ctx, gateBase+"/my_trades", q, &out); err != nil {
		return nil, err
	}

	fills := make([]domain.Fill, 0, len(out))
	for _, t := range out {
		side := domain.SideBuy
		if t.Size.IsNegative() {
			side = domain.SideSell
		}
		fills = append(fills, domain.Fill{
			ID:      strconv.FormatInt(t.ID, 10),
			OrderID: t.OrderID,
			Side:    side,
			Price:   dec(t.Price),
			Qty:     t.Size.Abs(),
			Fee:     dec(t.Fee).Abs(),
			Time:    time.Unix(int64(t.CreateTime), 0),
		})
	}
	return fills, nil
}

func (p *gateProtocol) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var out struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := p.tr.get(ctx, gateBase+"/accounts", url.Values{}, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Currency != "" && out.Currency != asset {
		return decimal.Zero, nil
	}
	return dec(out.Available), nil
}

func (p *gateProtocol) markPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out struct {
		MarkPrice string `json:"mark_price"`
	}
	if err := p.tr.get(ctx, gateBase+"/contracts/"+url.PathEscape(symbol), url.Values{}, &out); err != nil {
		return decimal.Zero, err
	}
	return dec(out.MarkPrice), nil
}

func (p *gateProtocol) markets(ctx context.Context) (map[string]domain.Market, error) {
	var out []struct {
		Name            string `json:"name"`
		InDelisting     bool   `json:"in_delisting"`
		QuantoMultiplier string `json:"quanto_multiplier"`
		OrderPriceRound string `json:"order_price_round"`
		OrderSizeMin    int64  `json:"order_size_min"`
	}
	if err := p.tr.get(ctx, gateBase+"/contracts", url.Values{}, &out); err != nil {
		return nil, err
	}

	markets := make(map[string]domain.Market, len(out))
	for _, c := range out {
		if c.InDelisting {
			continue
		}
		unified, err := unifiedSymbol("gate", c.Name)
		if err != nil {
			continue
		}
		markets[unified] = domain.Market{
			Symbol:          unified,
			ContractSize:    dec(c.QuantoMultiplier),
			PricePrecision:  stepPrecision(c.OrderPriceRound),
			AmountPrecision: 0,
			MinQty:          decimal.NewFromInt(c.OrderSizeMin),
		}
	}
	return markets, nil
}

func (p *gateProtocol) positionMode(ctx context.Context) (bool, error) {
	var out struct {
		InDualMode bool `json:"in_dual_mode"`
	}
	if err := p.tr.get(ctx, gateBase+"/accounts", url.Values{}, &out); err != nil {
		return false, err
	}
	return out.InDualMode, nil
}

func (p *gateProtocol) accountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return domain.AccountConfig{}, &domain.ExchangeAPIError{
		Exchange: "gate", Op: "accountConfig", Err: errProbeUnsupported,
	}
}

func (p *gateProtocol) placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	// rule 1 fires when the mark price rises to the trigger, 2 when it falls
	rule := 1
	if (req.Side == domain.SideSell) == (req.Kind == domain.ConditionalStopLoss) {
		rule = 2
	}
	body := map[string]any{
		"initial": map[string]any{
			"contract":    symbol,
			"size":        signedSize(req.Side, req.Qty),
			"price":       "0",
			"tif":         "ioc",
			"reduce_only": req.ReduceOnly,
		},
		"trigger": map[string]any{
			"strategy_type": 0,
			"price_type":    1, // mark price
			"price":         req.TriggerPrice.String(),
			"rule":          rule,
		},
	}

	var out struct {
		ID int64 `json:"id"`
	}
	if err := p.tr.post(ctx, gateBase+"/price_orders", body, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.ID, 10), nil
}

func (p *gateProtocol) cancelConditional(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := p.tr.del(ctx, gateBase+"/price_orders/"+url.PathEscape(orderID), url.Values{}, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (p *gateProtocol) listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	q := url.Values{}
	q.Set("status", "open")
	q.Set("contract", symbol)

	var out []struct {
		ID      int64 `json:"id"`
		Initial struct {
			Size decimal.Decimal `json:"size"`
		} `json:"initial"`
		Trigger struct {
			Price string `json:"price"`
		} `json:"trigger"`
	}
	if err := p.tr.get(ctx, gateBase+"/price_orders", q, &out); err != nil {
		return nil, err
	}

	orders := make([]domain.ConditionalOrder, 0, len(out))
	for _, o := range out {
		side := domain.SideBuy
		if o.Initial.Size.IsNegative() {
			side = domain.SideSell
		}
		orders = append(orders, domain.ConditionalOrder{
			ID:           strconv.FormatInt(o.ID, 10),
			Side:         side,
			TriggerPrice: dec(o.Trigger.Price),
			Qty:          o.Initial.Size.Abs(),
		})
	}
	return orders, nil
}

func (p *gateProtocol) fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	q := url.Values{}
	q.Set("contract", symbol)
	q.Set("type", "fund")
	if !since.IsZero() {
		q.Set("from", strconv.FormatInt(since.Unix(), 10))
	}

	var out []struct {
		ID     string  `json:"id"`
		Change string  `json:"change"`
		Time   float64 `json:"time"`
	}
	if err := p.tr.get(ctx, gateBase+"/account_book", q, &out); err != nil {
		return nil, err
	}

	payments := make([]domain.FundingPayment, 0, len(out))
	for _, e := range out {
		payments = append(payments, domain.FundingPayment{
			Amount:     dec(e.Change),
			PaidAt:     time.Unix(int64(e.Time), 0),
			ExternalID: e.ID,
		})
	}
	return payments, nil
}
