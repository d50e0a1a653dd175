package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
)

// DefaultMarketTTL bounds instrument metadata staleness. Precision and
// contract size change rarely; staleness is tolerated, never relied upon.
const DefaultMarketTTL = 10 * time.Minute

// SessionDialer opens an authenticated trading session on one exchange.
// The gateway package provides the production implementation.
type SessionDialer interface {
	Dial(ctx context.Context, exchange string, cred domain.Credential) (domain.TradingSession, error)
}

type marketEntry struct {
	markets   map[string]domain.Market
	expiresAt time.Time
}

// MarketCache is a TTL cache of LoadMarkets results, keyed by exchange.
type MarketCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]marketEntry
}

func NewMarketCache(ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{ttl: ttl, now: time.Now, entries: make(map[string]marketEntry)}
}

func (c *MarketCache) get(exchange string) (map[string]domain.Market, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[exchange]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, exchange)
		return nil, false
	}
	return e.markets, true
}

func (c *MarketCache) put(exchange string, markets map[string]domain.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[exchange] = marketEntry{markets: markets, expiresAt: c.now().Add(c.ttl)}
}

// Trader is a fully assembled trading capability for one (user, exchange,
// symbol): an authenticated session, the detected account mode, the
// instrument's metadata and the exchange variant's parameter and
// conditional-order behavior.
type Trader struct {
	Session     domain.TradingSession
	Variant     Variant
	Mode        domain.AccountMode
	Market      domain.Market
	Conditional ConditionalAdapter
}

// OpenParams builds open-order parameters for the trader's detected mode.
func (t *Trader) OpenParams(side domain.LegSide) (domain.OrderParams, error) {
	return t.Variant.OpenParams(side, t.Mode.HedgeMode)
}

// CloseParams builds close-order parameters tagged with the leg's original
// open identity.
func (t *Trader) CloseParams(side domain.LegSide) (domain.OrderParams, error) {
	return t.Variant.CloseParams(side, t.Mode.HedgeMode)
}

// TraderBuilder is the factory contract the sagas depend on.
type TraderBuilder interface {
	Build(ctx context.Context, userID, exchange, symbol string) (*Trader, error)
}

// TraderFactory assembles Traders: resolves credentials, dials the session,
// detects the account mode and loads instrument metadata, with both probes
// served from injected TTL caches.
type TraderFactory struct {
	registry *Registry
	creds    domain.CredentialSource
	dialer   SessionDialer
	detector *ModeDetector
	markets  *MarketCache
	logger   *slog.Logger
}

func NewTraderFactory(registry *Registry, creds domain.CredentialSource, dialer SessionDialer, detector *ModeDetector, markets *MarketCache, logger *slog.Logger) *TraderFactory {
	return &TraderFactory{
		registry: registry,
		creds:    creds,
		dialer:   dialer,
		detector: detector,
		markets:  markets,
		logger:   logger.With("component", "trader_factory"),
	}
}

// Build implements TraderBuilder. It fails with ErrAPIKeyNotFound before any
// network call when the user has no credentials for the exchange, and with a
// ValidationError when the symbol is not listed on the exchange.
func (f *TraderFactory) Build(ctx context.Context, userID, exchange, symbol string) (*Trader, error) {
	variant, err := f.registry.Lookup(exchange)
	if err != nil {
		return nil, err
	}

	cred, err := f.creds.Get(ctx, userID, exchange)
	if err != nil {
		return nil, err
	}

	sess, err := f.dialer.Dial(ctx, exchange, cred)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", exchange, err)
	}

	mode := f.detector.Detect(ctx, sess, userID+"/"+exchange)
	if mode.DetectionFailed {
		f.logger.Warn("trading with assumed account mode",
			"user_id", userID, "exchange", exchange, "hedge_mode", mode.HedgeMode)
	}

	market, err := f.market(ctx, sess, exchange, symbol)
	if err != nil {
		return nil, err
	}

	return &Trader{
		Session:     sess,
		Variant:     variant,
		Mode:        mode,
		Market:      market,
		Conditional: variant.ConditionalAdapter(sess, market, mode),
	}, nil
}

func (f *TraderFactory) market(ctx context.Context, sess domain.TradingSession, exchange, symbol string) (domain.Market, error) {
	markets, ok := f.markets.get(exchange)
	if !ok {
		loaded, err := sess.LoadMarkets(ctx)
		if err != nil {
			return domain.Market{}, fmt.Errorf("load markets on %s: %w", exchange, err)
		}
		f.markets.put(exchange, loaded)
		markets = loaded
	}

	market, ok := markets[symbol]
	if !ok {
		return domain.Market{}, &domain.ValidationError{
			Field:  "symbol",
			Value:  symbol,
			Reason: "not listed on " + exchange,
		}
	}
	return market, nil
}
