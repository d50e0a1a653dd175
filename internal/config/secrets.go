package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active configuration
// so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Vault.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	redact(&out.Server.APIKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Saga.CompensationDelays != nil {
		out.Saga.CompensationDelays = make([]duration, len(cfg.Saga.CompensationDelays))
		copy(out.Saga.CompensationDelays, cfg.Saga.CompensationDelays)
	}
	if cfg.Exchanges.BaseURLs != nil {
		out.Exchanges.BaseURLs = make(map[string]string, len(cfg.Exchanges.BaseURLs))
		for k, v := range cfg.Exchanges.BaseURLs {
			out.Exchanges.BaseURLs[k] = v
		}
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Exchanges.WsURLs != nil {
		out.Exchanges.WsURLs = make(map[string]string, len(cfg.Exchanges.WsURLs))
		for k, v := range cfg.Exchanges.WsURLs {
			out.Exchanges.WsURLs[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
