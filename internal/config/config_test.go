package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "openai", cfg.Evaluator.Backend)
	assert.Equal(t, "gpt-4-turbo-preview", cfg.Evaluator.Model)
	assert.Equal(t, 30*time.Second, cfg.Evaluator.Timeout.Duration)
	assert.InDelta(t, 65, cfg.Consensus.MinScore, 0.001)
	assert.Equal(t, "listed", cfg.Consensus.AmountPolicy)
	assert.Equal(t, "simulated", cfg.Settlement.Backend)
	assert.Equal(t, 1500*time.Millisecond, cfg.Settlement.SimulatedDelay.Duration)
	assert.Equal(t, "0.17", cfg.Settlement.MinimumFee)
	assert.Equal(t, "ADA", cfg.Settlement.Currency)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "authorize"

[evaluator]
backend = "anthropic"
timeout = "5s"

[[evaluator.roles]]
name = "Valuation Expert"
expertise = "pricing"
instructions = "Score the price."

[authorize]
item_id = "card_001"
buyer = "user_1"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "authorize", cfg.Mode)
	assert.Equal(t, "anthropic", cfg.Evaluator.Backend)
	assert.Equal(t, 5*time.Second, cfg.Evaluator.Timeout.Duration)
	require.Len(t, cfg.Evaluator.Roles, 1)
	assert.Equal(t, "Valuation Expert", cfg.Evaluator.Roles[0].Name)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Evaluator.MaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `log_level = "info"`)

	t.Setenv("CARDPAY_EVALUATOR_TIMEOUT", "12s")
	t.Setenv("CARDPAY_CONSENSUS_MIN_SCORE", "70")
	t.Setenv("CARDPAY_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OPENAI_API_KEY", "sk-alias")
	t.Setenv("CARDPAY_EVALUATOR_API_KEY", "sk-prefixed")
	t.Setenv("CARDPAY_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12*time.Second, cfg.Evaluator.Timeout.Duration)
	assert.InDelta(t, 70, cfg.Consensus.MinScore, 0.001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sk-prefixed", cfg.Evaluator.APIKey)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Evaluator.Backend = "http"
	cfg.Consensus.MinScore = 120
	cfg.Consensus.AmountPolicy = "half"
	cfg.Settlement.MinimumFee = "cheap"
	cfg.Evaluator.Roles = []RoleConfig{
		{Name: "Market Analyst", Instructions: "x"},
		{Name: "Market Analyst", Instructions: "y"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "base_url is required for the http backend")
	assert.Contains(t, msg, "min_score must be within [0,100]")
	assert.Contains(t, msg, `unknown amount_policy "half"`)
	assert.Contains(t, msg, "minimum_fee is not a decimal")
	assert.Contains(t, msg, `duplicate role "Market Analyst"`)
}

func TestValidateAuthorizeModeNeedsRequest(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "authorize"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item_id is required")
	assert.Contains(t, err.Error(), "buyer is required")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Evaluator.APIKey = "sk-secret"
	cfg.Settlement.SigningSecret = "hmac-secret"
	cfg.Postgres.Password = ""

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Evaluator.APIKey)
	assert.Equal(t, "***", out.Settlement.SigningSecret)
	assert.Empty(t, out.Postgres.Password)
	assert.Equal(t, "sk-secret", cfg.Evaluator.APIKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
