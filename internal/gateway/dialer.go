package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/exchange"
)

// venue describes one exchange's REST endpoint and request budget. The rate
// limits are deliberately far below the venues' published ceilings; other
// consumers of the same account share them.
type venue struct {
	base   string
	limit  int
	window time.Duration
}

func defaultVenues() map[string]venue {
	return map[string]venue{
		"binance": {base: "https://fapi.binance.com", limit: 20, window: time.Second},
		"okx":     {base: "https://www.okx.com", limit: 10, window: time.Second},
		"bingx":   {base: "https://open-api.bingx.com", limit: 10, window: time.Second},
		"gate":    {base: "https://api.gateio.ws", limit: 10, window: time.Second},
		"bitget":  {base: "https://api.bitget.com", limit: 10, window: time.Second},
	}
}

// Dialer opens authenticated REST sessions. It implements
// exchange.SessionDialer.
type Dialer struct {
	venues  map[string]venue
	limiter domain.RateLimiter
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

var _ exchange.SessionDialer = (*Dialer)(nil)

func NewDialer(limiter domain.RateLimiter, timeout time.Duration, logger *slog.Logger) *Dialer {
	return &Dialer{
		venues:  defaultVenues(),
		limiter: limiter,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With("component", "gateway"),
	}
}

// SetBaseURL overrides one venue's endpoint, for testnets and tests.
func (d *Dialer) SetBaseURL(exchangeName, base string) {
	v := d.venues[exchangeName]
	v.base = base
	d.venues[exchangeName] = v
}

// Dial builds a signed session for the exchange. No network call is made;
// credentials are verified lazily by the first authenticated request.
func (d *Dialer) Dial(ctx context.Context, exchangeName string, cred domain.Credential) (domain.TradingSession, error) {
	v, ok := d.venues[exchangeName]
	if !ok {
		return nil, &domain.ValidationError{
			Field: "exchange", Value: exchangeName, Reason: "no gateway endpoint",
		}
	}

	s, err := newSigner(exchangeName, cred, d.now)
	if err != nil {
		return nil, err
	}
	tr := newTransport(exchangeName, v.base, s, d.limiter, v.limit, v.window, d.timeout, d.logger)

	var proto protocol
	switch exchangeName {
	case "binance":
		proto = &binanceProtocol{tr: tr}
	case "okx":
		proto = &okxProtocol{tr: tr}
	case "bingx":
		proto = &bingxProtocol{tr: tr}
	case "gate":
		proto = &gateProtocol{tr: tr}
	case "bitget":
		proto = &bitgetProtocol{tr: tr}
	}
	return &Session{exchange: exchangeName, proto: proto}, nil
}
