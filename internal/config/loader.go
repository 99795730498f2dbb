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
// built-in defaults, applies TOKENVEST_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TOKENVEST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TOKENVEST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TOKENVEST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TOKENVEST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TOKENVEST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TOKENVEST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TOKENVEST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TOKENVEST_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TOKENVEST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TOKENVEST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TOKENVEST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TOKENVEST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TOKENVEST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TOKENVEST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TOKENVEST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TOKENVEST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TOKENVEST_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TOKENVEST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TOKENVEST_S3_REGION")
	setStr(&cfg.S3.Bucket, "TOKENVEST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TOKENVEST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TOKENVEST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TOKENVEST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TOKENVEST_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "TOKENVEST_CHAIN_RPC_URL")
	setStr(&cfg.Chain.SettlementBaseURL, "TOKENVEST_CHAIN_SETTLEMENT_BASE_URL")
	setStr(&cfg.Chain.SettlementAPIKey, "TOKENVEST_CHAIN_SETTLEMENT_API_KEY")
	setDuration(&cfg.Chain.SettlementTimeout, "TOKENVEST_CHAIN_SETTLEMENT_TIMEOUT")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "TOKENVEST_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.Issuer, "TOKENVEST_AUTH_ISSUER")

	// ── Rate limit ──
	setStr(&cfg.RateLimit.Backend, "TOKENVEST_RATE_LIMIT_BACKEND")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TOKENVEST_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TOKENVEST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TOKENVEST_SERVER_CORS_ORIGINS")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "TOKENVEST_SWEEPER_ENABLED")
	setDuration(&cfg.Sweeper.Interval, "TOKENVEST_SWEEPER_INTERVAL")
	setInt(&cfg.Sweeper.AlertAttempts, "TOKENVEST_SWEEPER_ALERT_ATTEMPTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TOKENVEST_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "TOKENVEST_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "TOKENVEST_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "TOKENVEST_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TOKENVEST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TOKENVEST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.WebhookURL, "TOKENVEST_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookToken, "TOKENVEST_NOTIFY_WEBHOOK_TOKEN")
	setStringSlice(&cfg.Notify.Events, "TOKENVEST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TOKENVEST_MODE")
	setStr(&cfg.LogLevel, "TOKENVEST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
