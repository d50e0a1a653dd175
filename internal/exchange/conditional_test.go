package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestClassifyTrigger(t *testing.T) {
	entry := dec("100")
	tests := []struct {
		name    string
		trigger string
		side    domain.LegSide
		want    domain.ConditionalKind
	}{
		{"long below entry", "95", domain.LegLong, domain.ConditionalStopLoss},
		{"long above entry", "110", domain.LegLong, domain.ConditionalTakeProfit},
		{"short below entry", "95", domain.LegShort, domain.ConditionalTakeProfit},
		{"short above entry", "110", domain.LegShort, domain.ConditionalStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrigger(dec(tt.trigger), entry, tt.side))
		})
	}
}

func TestBinanceConditionalStopLoss(t *testing.T) {
	sess := &fakeSession{name: "binance"}
	v := Variant{Name: "binance", Family: FamilyBinance}
	adapter := v.ConditionalAdapter(sess, domain.Market{}, domain.AccountMode{HedgeMode: true})

	id, err := adapter.SetStopLoss(context.Background(), "BTC/USDT:USDT", domain.LegLong, dec("0.5"), dec("45000"))
	require.NoError(t, err)
	assert.Equal(t, "cond-1", id)

	require.Len(t, sess.placedConditional, 1)
	req := sess.placedConditional[0]
	assert.Equal(t, "STOP_MARKET", req.OrderType)
	assert.Equal(t, domain.SideSell, req.Side, "closing a long sells")
	assert.Equal(t, "LONG", req.PositionSide, "identity tag follows the open direction")
	assert.False(t, req.ReduceOnly)
	assert.Equal(t, "45000", req.Params["stopPrice"])
}

func TestBinanceConditionalOneWayReduceOnly(t *testing.T) {
	sess := &fakeSession{name: "binance"}
	v := Variant{Name: "binance", Family: FamilyBinance}
	adapter := v.ConditionalAdapter(sess, domain.Market{}, domain.AccountMode{HedgeMode: false})

	_, err := adapter.SetTakeProfit(context.Background(), "BTC/USDT:USDT", domain.LegShort, dec("1"), dec("40000"))
	require.NoError(t, err)

	req := sess.placedConditional[0]
	assert.Equal(t, "TAKE_PROFIT_MARKET", req.OrderType)
	assert.Equal(t, domain.SideBuy, req.Side, "closing a short buys")
	assert.True(t, req.ReduceOnly)
	assert.Empty(t, req.PositionSide)
}

func TestOKXConditionalGenericTrigger(t *testing.T) {
	sess := &fakeSession{name: "okx"}
	v := Variant{Name: "okx", Family: FamilyOKX}
	adapter := v.ConditionalAdapter(sess, domain.Market{}, domain.AccountMode{HedgeMode: true})

	_, err := adapter.SetStopLoss(context.Background(), "ETH/USDT:USDT", domain.LegShort, dec("2"), dec("2100"))
	require.NoError(t, err)

	req := sess.placedConditional[0]
	assert.Equal(t, "trigger", req.OrderType)
	assert.Equal(t, "cross", req.Params["tdMode"])
	assert.Equal(t, "short", req.Params["posSide"])
	assert.Equal(t, "2100", req.Params["triggerPx"])
	assert.Equal(t, "-1", req.Params["orderPx"])
}

func TestOKXListStripsKind(t *testing.T) {
	sess := &fakeSession{
		name: "okx",
		listed: []domain.ConditionalOrder{
			{ID: "a1", Kind: domain.ConditionalStopLoss, TriggerPrice: dec("95")},
		},
	}
	v := Variant{Name: "okx", Family: FamilyOKX}
	adapter := v.ConditionalAdapter(sess, domain.Market{}, domain.AccountMode{})

	orders, err := adapter.List(context.Background(), "ETH/USDT:USDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].Kind, "generic trigger API reports no kind")
}

func TestBingXConditionalPrecision(t *testing.T) {
	sess := &fakeSession{name: "bingx"}
	v := Variant{Name: "bingx", Family: FamilyBingX}
	market := domain.Market{PricePrecision: 1, AmountPrecision: 3}
	adapter := v.ConditionalAdapter(sess, market, domain.AccountMode{HedgeMode: true})

	_, err := adapter.SetStopLoss(context.Background(), "BTC/USDT:USDT", domain.LegLong, dec("0.123456"), dec("45000.07"))
	require.NoError(t, err)

	req := sess.placedConditional[0]
	assert.Equal(t, "45000.1", req.Params["stopPrice"])
	assert.Equal(t, "0.123", req.Params["quantity"])
}

func TestConditionalCancel(t *testing.T) {
	sess := &fakeSession{name: "gate"}
	v := Variant{Name: "gate", Family: FamilyGeneric}
	adapter := v.ConditionalAdapter(sess, domain.Market{}, domain.AccountMode{})

	ok, err := adapter.Cancel(context.Background(), "BTC/USDT:USDT", "c-9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"c-9"}, sess.cancelled)
}
