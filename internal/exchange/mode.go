package exchange

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
)

// DefaultModeTTL bounds how long a detected account mode is trusted. Mode
// changes are rare and re-probing costs two authenticated calls.
const DefaultModeTTL = 5 * time.Minute

type modeEntry struct {
	mode      domain.AccountMode
	expiresAt time.Time
}

// ModeCache is a TTL cache of detection results, keyed per session owner.
// It is constructed once and injected; there is no package-level state.
type ModeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]modeEntry
}

func NewModeCache(ttl time.Duration) *ModeCache {
	if ttl <= 0 {
		ttl = DefaultModeTTL
	}
	return &ModeCache{ttl: ttl, now: time.Now, entries: make(map[string]modeEntry)}
}

func (c *ModeCache) get(key string) (domain.AccountMode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return domain.AccountMode{}, false
	}
	return e.mode, true
}

func (c *ModeCache) put(key string, mode domain.AccountMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = modeEntry{mode: mode, expiresAt: c.now().Add(c.ttl)}
}

// ModeDetector probes an authenticated session for its position mode and
// margin variant. Probes are ordered: the position-mode endpoint first, then
// the account-config endpoint for account types where the first is
// unavailable. When both fail the safe default is hedge mode with standard
// margin, flagged so callers alert instead of silently trusting it.
type ModeDetector struct {
	cache  *ModeCache
	logger *slog.Logger
}

func NewModeDetector(cache *ModeCache, logger *slog.Logger) *ModeDetector {
	return &ModeDetector{cache: cache, logger: logger.With("component", "mode_detector")}
}

// Detect returns the account mode for the session, served from cache when a
// live entry exists. cacheKey should identify the credential owner, e.g.
// "userID/exchange". Failed detections are never cached.
func (d *ModeDetector) Detect(ctx context.Context, sess domain.TradingSession, cacheKey string) domain.AccountMode {
	if mode, ok := d.cache.get(cacheKey); ok {
		return mode
	}

	hedge, err := sess.FetchPositionMode(ctx)
	if err == nil {
		mode := domain.AccountMode{HedgeMode: hedge, MarginVariant: domain.MarginStandard}
		d.cache.put(cacheKey, mode)
		return mode
	}
	primaryErr := err

	cfg, err := sess.FetchAccountConfig(ctx)
	if err == nil {
		mode := domain.AccountMode{HedgeMode: cfg.HedgeMode, MarginVariant: cfg.MarginVariant}
		if mode.MarginVariant == "" {
			mode.MarginVariant = domain.MarginStandard
		}
		d.cache.put(cacheKey, mode)
		return mode
	}

	d.logger.Warn("account mode detection failed, assuming hedge mode",
		"exchange", sess.Exchange(),
		"key", cacheKey,
		"position_mode_error", primaryErr,
		"account_config_error", err)
	return domain.AccountMode{
		HedgeMode:       true,
		MarginVariant:   domain.MarginStandard,
		DetectionFailed: true,
	}
}
