package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTransport(t *testing.T, handler http.HandlerFunc) *transport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := newSigner("binance", testCred(), fixedNow)
	require.NoError(t, err)
	return newTransport("binance", srv.URL, s, nil, 0, 0, time.Second, discardLogger())
}

func TestTransportDecodesAndSigns(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		w.Write([]byte(`{"markPrice":"50000.5"}`))
	})

	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	err := tr.get(context.Background(), "/fapi/v1/premiumIndex", url.Values{"symbol": {"BTCUSDT"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "50000.5", out.MarkPrice)
}

func TestTransportStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad params", http.StatusBadRequest, false},
		{"bad auth", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rejected", tt.status)
			})

			err := tr.get(context.Background(), "/fapi/v1/order", url.Values{}, nil)
			var apiErr *domain.ExchangeAPIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "binance", apiErr.Exchange)
			assert.Equal(t, tt.retryable, apiErr.Retryable)
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestTransportConnectionFailureIsRetryable(t *testing.T) {
	s, err := newSigner("binance", testCred(), fixedNow)
	require.NoError(t, err)
	tr := newTransport("binance", "http://127.0.0.1:1", s, nil, 0, 0, 200*time.Millisecond, discardLogger())

	err = tr.get(context.Background(), "/fapi/v1/time", url.Values{}, nil)
	var apiErr *domain.ExchangeAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
}

type stubLimiter struct {
	calls   int
	allowAt int
	err     error
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	return l.calls >= l.allowAt, nil
}

func (l *stubLimiter) Wait(ctx context.Context, key string) error { return nil }

func TestTransportThrottleWaitsForLimiter(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	limiter := &stubLimiter{allowAt: 3}
	tr.limiter = limiter

	err := tr.get(context.Background(), "/fapi/v1/time", url.Values{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, limiter.calls)
}

func TestTransportThrottleDegradesOpen(t *testing.T) {
	tr := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	tr.limiter = &stubLimiter{err: context.DeadlineExceeded}

	// a broken limiter never blocks trading
	err := tr.get(context.Background(), "/fapi/v1/time", url.Values{}, nil)
	assert.NoError(t, err)
}
