package gateway

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testCred() domain.Credential {
	return domain.Credential{APIKey: "key", APISecret: "secret", Passphrase: "pass"}
}

func TestQuerySigner(t *testing.T) {
	s, err := newSigner("binance", testCred(), fixedNow)
	require.NoError(t, err)

	req := &signRequest{Method: "POST", Path: "/fapi/v1/order", Query: url.Values{"symbol": {"BTCUSDT"}}}
	headers := s.sign(req)

	assert.Equal(t, "key", headers["X-MBX-APIKEY"])
	assert.Equal(t, "1717243200000", req.Query.Get("timestamp"))

	// signature covers the query without the signature parameter itself
	withoutSig := url.Values{}
	for k, v := range req.Query {
		if k != "signature" {
			withoutSig[k] = v
		}
	}
	assert.Equal(t, hmacSHA256Hex("secret", withoutSig.Encode()), req.Query.Get("signature"))
}

func TestHeaderSignerOKX(t *testing.T) {
	s, err := newSigner("okx", testCred(), fixedNow)
	require.NoError(t, err)

	req := &signRequest{
		Method: "GET",
		Path:   "/api/v5/account/balance",
		Query:  url.Values{"ccy": {"USDT"}},
	}
	headers := s.sign(req)

	ts := "2024-06-01T12:00:00.000Z"
	assert.Equal(t, "key", headers["OK-ACCESS-KEY"])
	assert.Equal(t, "pass", headers["OK-ACCESS-PASSPHRASE"])
	assert.Equal(t, ts, headers["OK-ACCESS-TIMESTAMP"])
	want := hmacSHA256Base64("secret", ts+"GET"+"/api/v5/account/balance?ccy=USDT")
	assert.Equal(t, want, headers["OK-ACCESS-SIGN"])
}

func TestHeaderSignerBitgetUsesMilliseconds(t *testing.T) {
	s, err := newSigner("bitget", testCred(), fixedNow)
	require.NoError(t, err)

	headers := s.sign(&signRequest{Method: "GET", Path: "/api/v2/mix/account/accounts", Query: url.Values{}})
	assert.Equal(t, "1717243200000", headers["ACCESS-TIMESTAMP"])
	assert.NotEmpty(t, headers["ACCESS-SIGN"])
}

func TestGateSignerHeaders(t *testing.T) {
	s, err := newSigner("gate", testCred(), fixedNow)
	require.NoError(t, err)

	headers := s.sign(&signRequest{
		Method: "POST",
		Path:   "/api/v4/futures/usdt/orders",
		Query:  url.Values{},
		Body:   []byte(`{"contract":"BTC_USDT"}`),
	})
	assert.Equal(t, "key", headers["KEY"])
	assert.Equal(t, "1717243200", headers["Timestamp"])
	assert.Len(t, headers["SIGN"], 128, "hex-encoded sha512")
}

func TestSignerUnknownExchange(t *testing.T) {
	_, err := newSigner("kraken", testCred(), fixedNow)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}
