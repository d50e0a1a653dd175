package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BASISBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present, silently ignore if missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BASISBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setDuration(&cfg.Exchanges.RequestTimeout, "BASISBOT_EXCHANGES_REQUEST_TIMEOUT")
	setDuration(&cfg.Exchanges.MarketTTL, "BASISBOT_EXCHANGES_MARKET_TTL")
	setDuration(&cfg.Exchanges.ModeTTL, "BASISBOT_EXCHANGES_MODE_TTL")

	setStr(&cfg.Vault.Path, "BASISBOT_VAULT_PATH")
	setStr(&cfg.Vault.Password, "BASISBOT_VAULT_PASSWORD")

	setStr(&cfg.Postgres.DSN, "BASISBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BASISBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BASISBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BASISBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BASISBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BASISBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BASISBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BASISBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BASISBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BASISBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "BASISBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BASISBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BASISBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BASISBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BASISBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BASISBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.CommandStream, "BASISBOT_REDIS_COMMAND_STREAM")
	setStr(&cfg.Redis.EventChannel, "BASISBOT_REDIS_EVENT_CHANNEL")
	setStr(&cfg.Redis.EventStream, "BASISBOT_REDIS_EVENT_STREAM")

	setBool(&cfg.S3.Enabled, "BASISBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BASISBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BASISBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BASISBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BASISBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BASISBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BASISBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BASISBOT_S3_FORCE_PATH_STYLE")

	setDuration(&cfg.Saga.LegTimeout, "BASISBOT_SAGA_LEG_TIMEOUT")
	setDuration(&cfg.Saga.OpenLockTTL, "BASISBOT_SAGA_OPEN_LOCK_TTL")
	setDuration(&cfg.Saga.CloseLockTTL, "BASISBOT_SAGA_CLOSE_LOCK_TTL")
	setDuration(&cfg.Saga.PriceFetchWait, "BASISBOT_SAGA_PRICE_FETCH_WAIT")
	setFloat64(&cfg.Saga.BalanceBuffer, "BASISBOT_SAGA_BALANCE_BUFFER")
	setStr(&cfg.Saga.MarginAsset, "BASISBOT_SAGA_MARGIN_ASSET")

	setBool(&cfg.Funding.Enabled, "BASISBOT_FUNDING_ENABLED")
	setDuration(&cfg.Funding.Interval, "BASISBOT_FUNDING_INTERVAL")

	setInt(&cfg.Archive.RetentionDays, "BASISBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BASISBOT_ARCHIVE_INTERVAL")

	setStr(&cfg.Notify.TelegramToken, "BASISBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BASISBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BASISBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BASISBOT_NOTIFY_EVENTS")

	setBool(&cfg.Server.Enabled, "BASISBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "BASISBOT_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "BASISBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BASISBOT_SERVER_CORS_ORIGINS")

	setBool(&cfg.Metrics.Enabled, "BASISBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "BASISBOT_METRICS_ADDR")

	setStr(&cfg.Mode, "BASISBOT_MODE")
	setStr(&cfg.LogLevel, "BASISBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
