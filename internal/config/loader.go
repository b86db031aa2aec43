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
// built-in defaults, applies CARDPAY_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CARDPAY_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// Unprefixed aliases are applied first so the CARDPAY_* form wins.

	// ── Evaluator ──
	setStr(&cfg.Evaluator.Backend, "CARDPAY_EVALUATOR_BACKEND")
	setStr(&cfg.Evaluator.Model, "CARDPAY_EVALUATOR_MODEL")
	setStr(&cfg.Evaluator.APIKey, "OPENAI_API_KEY")
	setStr(&cfg.Evaluator.APIKey, "CARDPAY_EVALUATOR_API_KEY")
	setStr(&cfg.Evaluator.BaseURL, "CARDPAY_EVALUATOR_BASE_URL")
	setDuration(&cfg.Evaluator.Timeout, "CARDPAY_EVALUATOR_TIMEOUT")
	setInt(&cfg.Evaluator.MaxAttempts, "CARDPAY_EVALUATOR_MAX_ATTEMPTS")
	setFloat64(&cfg.Evaluator.RequestsPerSecond, "CARDPAY_EVALUATOR_REQUESTS_PER_SECOND")

	// ── Consensus ──
	setFloat64(&cfg.Consensus.MinScore, "CARDPAY_CONSENSUS_MIN_SCORE")
	setStr(&cfg.Consensus.AmountPolicy, "CARDPAY_CONSENSUS_AMOUNT_POLICY")
	setStr(&cfg.Consensus.ValuationRole, "CARDPAY_CONSENSUS_VALUATION_ROLE")

	// ── Settlement ──
	setStr(&cfg.Settlement.Backend, "CARDPAY_SETTLEMENT_BACKEND")
	setStr(&cfg.Settlement.BaseURL, "MASUMI_PAYMENT_URL")
	setStr(&cfg.Settlement.BaseURL, "CARDPAY_SETTLEMENT_BASE_URL")
	setStr(&cfg.Settlement.APIKey, "CARDPAY_SETTLEMENT_API_KEY")
	setStr(&cfg.Settlement.SigningKey, "CARDPAY_SETTLEMENT_SIGNING_KEY")
	setStr(&cfg.Settlement.SigningSecret, "CARDPAY_SETTLEMENT_SIGNING_SECRET")
	setDuration(&cfg.Settlement.Timeout, "CARDPAY_SETTLEMENT_TIMEOUT")
	setDuration(&cfg.Settlement.SimulatedDelay, "CARDPAY_SETTLEMENT_SIMULATED_DELAY")
	setStr(&cfg.Settlement.MinimumFee, "CARDPAY_SETTLEMENT_MINIMUM_FEE")
	setStr(&cfg.Settlement.FeeRate, "CARDPAY_SETTLEMENT_FEE_RATE")

	// ── Attestation ──
	setBool(&cfg.Attestation.Enabled, "CARDPAY_ATTESTATION_ENABLED")
	setStr(&cfg.Attestation.PrivateKey, "CARDPAY_ATTESTATION_PRIVATE_KEY")
	setStr(&cfg.Attestation.EncryptedKeyPath, "CARDPAY_ATTESTATION_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Attestation.KeyPassword, "CARDPAY_ATTESTATION_KEY_PASSWORD")

	// ── Purchase ──
	setDuration(&cfg.Purchase.LockTTL, "CARDPAY_PURCHASE_LOCK_TTL")
	setBool(&cfg.Purchase.DefaultAutomated, "CARDPAY_PURCHASE_DEFAULT_AUTOMATED")

	// ── Catalog ──
	setStr(&cfg.Catalog.SeedFile, "CARDPAY_CATALOG_SEED_FILE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "CARDPAY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CARDPAY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CARDPAY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CARDPAY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CARDPAY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CARDPAY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CARDPAY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CARDPAY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CARDPAY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CARDPAY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CARDPAY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CARDPAY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CARDPAY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CARDPAY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CARDPAY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CARDPAY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CardCacheTTL, "CARDPAY_REDIS_CARD_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CARDPAY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CARDPAY_S3_REGION")
	setStr(&cfg.S3.Bucket, "CARDPAY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CARDPAY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CARDPAY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CARDPAY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CARDPAY_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "CARDPAY_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CARDPAY_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CARDPAY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CARDPAY_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CARDPAY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CARDPAY_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CARDPAY_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CARDPAY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CARDPAY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CARDPAY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CARDPAY_NOTIFY_EVENTS")

	// ── Telemetry ──
	setBool(&cfg.Telemetry.Enabled, "CARDPAY_TELEMETRY_ENABLED")
	setStr(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setStr(&cfg.Telemetry.Endpoint, "CARDPAY_TELEMETRY_ENDPOINT")
	setStr(&cfg.Telemetry.Environment, "CARDPAY_TELEMETRY_ENVIRONMENT")

	// ── Top-level ──
	setStr(&cfg.Mode, "CARDPAY_MODE")
	setStr(&cfg.LogLevel, "CARDPAY_LOG_LEVEL")
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
