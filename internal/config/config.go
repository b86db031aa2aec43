// Package config defines the top-level configuration for the cardpay
// authorization service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CARDPAY_* environment variables.
type Config struct {
	Evaluator   EvaluatorConfig   `toml:"evaluator"`
	Consensus   ConsensusConfig   `toml:"consensus"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Attestation AttestationConfig `toml:"attestation"`
	Purchase    PurchaseConfig    `toml:"purchase"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Authorize   AuthorizeConfig   `toml:"authorize"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// EvaluatorConfig selects the scoring backend and bounds each call.
type EvaluatorConfig struct {
	// Backend is one of "openai", "anthropic" or "http".
	Backend     string   `toml:"backend"`
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Timeout     duration `toml:"timeout"`
	MaxAttempts int      `toml:"max_attempts"`
	// RequestsPerSecond caps calls into the backend; 0 disables the cap.
	RequestsPerSecond float64      `toml:"requests_per_second"`
	Burst             int          `toml:"burst"`
	Temperature       float64      `toml:"temperature"`
	MaxTokens         int          `toml:"max_tokens"`
	Roles             []RoleConfig `toml:"roles"`
}

// RoleConfig overrides the default evaluator roster.
type RoleConfig struct {
	Name         string `toml:"name"`
	Expertise    string `toml:"expertise"`
	Instructions string `toml:"instructions"`
}

// ConsensusConfig holds the decision policy.
type ConsensusConfig struct {
	MinScore float64 `toml:"min_score"`
	// AmountPolicy is "listed" or "recommended".
	AmountPolicy  string `toml:"amount_policy"`
	ValuationRole string `toml:"valuation_role"`
}

// SettlementConfig selects the payment backend.
type SettlementConfig struct {
	// Backend is "simulated" or "http".
	Backend        string   `toml:"backend"`
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	SigningKey     string   `toml:"signing_key"`
	SigningSecret  string   `toml:"signing_secret"`
	Timeout        duration `toml:"timeout"`
	SimulatedDelay duration `toml:"simulated_delay"`
	MinimumFee     string   `toml:"minimum_fee"`
	FeeRate        string   `toml:"fee_rate"`
	Currency       string   `toml:"currency"`
}

// AttestationConfig holds the secp256k1 key used to sign settlement metadata.
type AttestationConfig struct {
	Enabled          bool   `toml:"enabled"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PurchaseConfig tunes the purchase flow around the authorizer.
type PurchaseConfig struct {
	LockTTL          duration `toml:"lock_ttl"`
	DefaultAutomated bool     `toml:"default_automated"`
}

// CatalogConfig points at a JSON array of cards upserted on startup.
type CatalogConfig struct {
	SeedFile string `toml:"seed_file"`
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
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CardCacheTTL duration `toml:"card_cache_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls export of old authorization history to S3.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	Endpoint    string `toml:"endpoint"`
	Environment string `toml:"environment"`
}

// AuthorizeConfig is the one-shot request run by the "authorize" mode.
type AuthorizeConfig struct {
	ItemID string `toml:"item_id"`
	Buyer  string `toml:"buyer"`
	Manual bool   `toml:"manual"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Evaluator: EvaluatorConfig{
			Backend:           "openai",
			Model:             "gpt-4-turbo-preview",
			Timeout:           duration{30 * time.Second},
			MaxAttempts:       2,
			RequestsPerSecond: 5,
			Burst:             4,
			Temperature:       0.7,
			MaxTokens:         1024,
		},
		Consensus: ConsensusConfig{
			MinScore:      65,
			AmountPolicy:  "listed",
			ValuationRole: "Valuation Expert",
		},
		Settlement: SettlementConfig{
			Backend:        "simulated",
			BaseURL:        "http://localhost:7777",
			Timeout:        duration{30 * time.Second},
			SimulatedDelay: duration{1500 * time.Millisecond},
			MinimumFee:     "0.17",
			FeeRate:        "0.001",
			Currency:       "ADA",
		},
		Purchase: PurchaseConfig{
			LockTTL:          duration{3 * time.Minute},
			DefaultAutomated: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cardpay",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			CardCacheTTL: duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cardpay-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"purchase_approved", "settlement_failed", "evaluator_failed", "ownership_conflict"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cardpay",
			Endpoint:    "http://localhost:4318",
			Environment: "development",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"authorize": true,
	"archive":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvaluatorBackends = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"http":      true,
}

// NeedsS3 reports whether the configured mode archives to object storage.
func (c *Config) NeedsS3() bool {
	m := strings.ToLower(c.Mode)
	return m == "archive" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, authorize, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Evaluator
	if !validEvaluatorBackends[strings.ToLower(c.Evaluator.Backend)] {
		errs = append(errs, fmt.Sprintf("evaluator: unknown backend %q (valid: openai, anthropic, http)", c.Evaluator.Backend))
	}
	if strings.EqualFold(c.Evaluator.Backend, "http") && c.Evaluator.BaseURL == "" {
		errs = append(errs, "evaluator: base_url is required for the http backend")
	}
	if c.Evaluator.Timeout.Duration <= 0 {
		errs = append(errs, "evaluator: timeout must be > 0")
	}
	if c.Evaluator.MaxAttempts < 1 {
		errs = append(errs, "evaluator: max_attempts must be >= 1")
	}
	if c.Evaluator.RequestsPerSecond < 0 {
		errs = append(errs, "evaluator: requests_per_second must be >= 0")
	}
	seen := make(map[string]bool, len(c.Evaluator.Roles))
	for i, r := range c.Evaluator.Roles {
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, fmt.Sprintf("evaluator: roles[%d].name must not be empty", i))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("evaluator: duplicate role %q", r.Name))
		}
		seen[r.Name] = true
		if strings.TrimSpace(r.Instructions) == "" {
			errs = append(errs, fmt.Sprintf("evaluator: role %q has no instructions", r.Name))
		}
	}

	// Consensus
	if c.Consensus.MinScore < 0 || c.Consensus.MinScore > 100 {
		errs = append(errs, fmt.Sprintf("consensus: min_score must be within [0,100], got %g", c.Consensus.MinScore))
	}
	switch strings.ToLower(c.Consensus.AmountPolicy) {
	case "listed", "recommended":
	default:
		errs = append(errs, fmt.Sprintf("consensus: unknown amount_policy %q (valid: listed, recommended)", c.Consensus.AmountPolicy))
	}

	// Settlement
	switch strings.ToLower(c.Settlement.Backend) {
	case "simulated":
	case "http":
		if c.Settlement.BaseURL == "" {
			errs = append(errs, "settlement: base_url is required for the http backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("settlement: unknown backend %q (valid: simulated, http)", c.Settlement.Backend))
	}
	if _, err := decimal.NewFromString(c.Settlement.MinimumFee); err != nil {
		errs = append(errs, fmt.Sprintf("settlement: minimum_fee is not a decimal: %q", c.Settlement.MinimumFee))
	}
	if _, err := decimal.NewFromString(c.Settlement.FeeRate); err != nil {
		errs = append(errs, fmt.Sprintf("settlement: fee_rate is not a decimal: %q", c.Settlement.FeeRate))
	}
	if c.Settlement.Currency == "" {
		errs = append(errs, "settlement: currency must not be empty")
	}
	if (c.Settlement.SigningKey == "") != (c.Settlement.SigningSecret == "") {
		errs = append(errs, "settlement: signing_key and signing_secret must be set together")
	}

	// Attestation
	if c.Attestation.Enabled {
		if c.Attestation.PrivateKey == "" && c.Attestation.EncryptedKeyPath == "" {
			errs = append(errs, "attestation: either private_key or encrypted_key_path must be set when enabled")
		}
		if c.Attestation.EncryptedKeyPath != "" && c.Attestation.KeyPassword == "" {
			errs = append(errs, "attestation: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Purchase.LockTTL.Duration <= 0 {
		errs = append(errs, "purchase: lock_ttl must be > 0")
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 and archive
	if c.NeedsS3() {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	// Server
	if c.Server.Enabled && (mode == "server" || mode == "full") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry: endpoint is required when enabled")
	}

	if mode == "authorize" {
		if c.Authorize.ItemID == "" {
			errs = append(errs, "authorize: item_id is required in authorize mode")
		}
		if c.Authorize.Buyer == "" {
			errs = append(errs, "authorize: buyer is required in authorize mode")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
