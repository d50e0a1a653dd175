// Package config defines the top-level configuration for the basis bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BASISBOT_* environment
// variables.
type Config struct {
	Exchanges ExchangesConfig `toml:"exchanges"`
	Vault     VaultConfig     `toml:"vault"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Saga      SagaConfig      `toml:"saga"`
	Funding   FundingConfig   `toml:"funding"`
	Archive   ArchiveConfig   `toml:"archive"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ExchangesConfig tunes the exchange gateway.
type ExchangesConfig struct {
	// RequestTimeout bounds each REST call.
	RequestTimeout duration `toml:"request_timeout"`
	// BaseURLs overrides the per-exchange REST base, e.g. for testnets.
	BaseURLs map[string]string `toml:"base_urls"`
	// WsURLs are authenticated order-stream endpoints per exchange. Streams
	// are only started for exchanges listed here.
	WsURLs map[string]string `toml:"ws_urls"`
	// MarketTTL bounds instrument metadata staleness in the market cache.
	MarketTTL duration `toml:"market_ttl"`
	// ModeTTL bounds how long a detected account mode is trusted.
	ModeTTL duration `toml:"mode_ttl"`
}

// VaultConfig locates the encrypted credential vault.
type VaultConfig struct {
	Path     string `toml:"path"`
	Password string `toml:"password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CommandStream is the stream the serve loop reads open/close commands
	// from.
	CommandStream string `toml:"command_stream"`
	// EventChannel carries live saga lifecycle events over pub/sub;
	// EventStream is the durable replay log of the same events.
	EventChannel string `toml:"event_channel"`
	EventStream  string `toml:"event_stream"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SagaConfig tunes the open/close coordinators.
type SagaConfig struct {
	LegTimeout         duration   `toml:"leg_timeout"`
	CompensationDelays []duration `toml:"compensation_delays"`
	OpenLockTTL        duration   `toml:"open_lock_ttl"`
	CloseLockTTL       duration   `toml:"close_lock_ttl"`
	PriceFetchWait     duration   `toml:"price_fetch_wait"`
	// BalanceBuffer is the fractional safety margin on top of required
	// margin, e.g. 0.10 for 10%.
	BalanceBuffer float64 `toml:"balance_buffer"`
	MarginAsset   string  `toml:"margin_asset"`
}

// FundingConfig tunes the funding accrual loop.
type FundingConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ArchiveConfig tunes the monthly S3 archival run.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	// APIKey protects all endpoints when set. Empty disables authentication.
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// MetricsConfig holds the Prometheus exposition endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// duration wraps time.Duration so TOML can decode strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchanges: ExchangesConfig{
			RequestTimeout: duration{10 * time.Second},
			BaseURLs:       map[string]string{},
			WsURLs:         map[string]string{},
			MarketTTL:      duration{10 * time.Minute},
			ModeTTL:        duration{5 * time.Minute},
		},
		Vault: VaultConfig{
			Path: "credentials.vault",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "basisbot",
			User:          "basisbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			CommandStream: "basisbot:commands",
			EventChannel:  "basisbot:positions",
			EventStream:   "basisbot:events",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "basisbot-archive",
			ForcePathStyle: true,
		},
		Saga: SagaConfig{
			LegTimeout:         duration{30 * time.Second},
			CompensationDelays: []duration{{0}, {time.Second}, {2 * time.Second}},
			OpenLockTTL:        duration{30 * time.Second},
			CloseLockTTL:       duration{60 * time.Second},
			PriceFetchWait:     duration{500 * time.Millisecond},
			BalanceBuffer:      0.10,
			MarginAsset:        "USDT",
		},
		Funding: FundingConfig{
			Enabled:  true,
			Interval: duration{15 * time.Minute},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "position_failed", "unhedged_exposure"},
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Exchanges.RequestTimeout.Duration <= 0 {
		errs = append(errs, "exchanges: request_timeout must be positive")
	}

	if c.Vault.Path == "" {
		errs = append(errs, "vault: path must not be empty")
	}
	if c.Mode == "serve" && c.Vault.Password == "" {
		errs = append(errs, "vault: password is required for serve mode (set BASISBOT_VAULT_PASSWORD)")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.CommandStream == "" {
		errs = append(errs, "redis: command_stream must not be empty")
	}
	if c.Redis.EventChannel == "" {
		errs = append(errs, "redis: event_channel must not be empty")
	}
	if c.Redis.EventStream == "" {
		errs = append(errs, "redis: event_stream must not be empty")
	}

	if c.S3.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Saga.LegTimeout.Duration <= 0 {
		errs = append(errs, "saga: leg_timeout must be positive")
	}
	if c.Saga.OpenLockTTL.Duration <= 0 {
		errs = append(errs, "saga: open_lock_ttl must be positive")
	}
	if c.Saga.CloseLockTTL.Duration <= 0 {
		errs = append(errs, "saga: close_lock_ttl must be positive")
	}
	if c.Saga.BalanceBuffer < 0 {
		errs = append(errs, "saga: balance_buffer must not be negative")
	}
	if c.Saga.MarginAsset == "" {
		errs = append(errs, "saga: margin_asset must not be empty")
	}

	if c.Funding.Enabled && c.Funding.Interval.Duration <= 0 {
		errs = append(errs, "funding: interval must be positive when enabled")
	}

	if c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	// Telegram needs both halves or neither.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty when enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CompensationDelays converts the configured delays to plain durations.
func (c SagaConfig) CompensationDurations() []time.Duration {
	out := make([]time.Duration, len(c.CompensationDelays))
	for i, d := range c.CompensationDelays {
		out[i] = d.Duration
	}
	return out
}
