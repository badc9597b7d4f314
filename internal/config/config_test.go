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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, cfg.Feed.Symbols)
	assert.Equal(t, 3*time.Second, cfg.Feed.SeedTimeout)
	assert.Equal(t, 60*time.Second, cfg.Feed.BackoffMax)
	assert.Equal(t, 5000, cfg.Feed.BarHistory)
	assert.Equal(t, 5*time.Second, cfg.Trading.Cycle)
	assert.Equal(t, "sim", cfg.Execution.Backend)
	assert.InDelta(t, 0.5, cfg.Decision.Weights["orderflow"], 1e-9)
	assert.InDelta(t, 0.3, cfg.Decision.Weights["momentum"], 1e-9)
	assert.InDelta(t, 0.2, cfg.Decision.Weights["macro"], 1e-9)
	assert.InDelta(t, 0.0006, cfg.Fees.TakerRate(), 1e-12)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := writeConfig(t, `
feed:
  symbols: [BTC-USD]
decision:
  weights:
    orderflow: 1
execution:
  mode: maker
trading:
  cycle_sec: 9
`)
	t.Setenv("SYMBOLS", "doge-usd, ada-usd")
	t.Setenv("PAPER_CASH", "2500")
	t.Setenv("CYCLE_SEC", "7")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"DOGE-USD", "ADA-USD"}, cfg.Feed.Symbols)
	assert.InDelta(t, 2500.0, cfg.Risk.StartCash, 1e-9)
	assert.Equal(t, 7*time.Second, cfg.Trading.Cycle)
	assert.Equal(t, "maker", cfg.Execution.Mode)
	assert.Equal(t, map[string]float64{"orderflow": 1}, cfg.Decision.Weights)
}

func TestCredentialSubstitution(t *testing.T) {
	t.Setenv("COINBASE_API_KEY", "key")
	t.Setenv("COINBASE_API_SECRET", "c2VjcmV0")
	t.Setenv("COINBASE_API_PASSPHRASE", "pass")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.Exchange.Credentials.Present())
	assert.Equal(t, "key", cfg.Exchange.Credentials.APIKey)
	assert.Equal(t, "pass", cfg.Exchange.Credentials.Passphrase)
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv("COINBASE_API_KEY", "")
	t.Setenv("COINBASE_API_SECRET", "")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.False(t, cfg.Exchange.Credentials.Present())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Feed.Symbols = nil }},
		{"zero cycle", func(c *Config) { c.Trading.Cycle = 0 }},
		{"bad backend", func(c *Config) { c.Execution.Backend = "live" }},
		{"bad mode", func(c *Config) { c.Execution.Mode = "iceberg" }},
		{"no cash", func(c *Config) { c.Risk.StartCash = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFrom(t.TempDir())
			require.NoError(t, err)
			tt.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSkipReadinessFromEnv(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("MARKET_DATA_MOCK", "true")
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	assert.True(t, cfg.Runtime.SkipReadiness)
}

func TestReportListsMissingEnv(t *testing.T) {
	t.Setenv("COINBASE_API_KEY", "k")
	t.Setenv("COINBASE_API_SECRET", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)
	r := cfg.Report()

	assert.True(t, r.Env["COINBASE_API_KEY"])
	assert.Contains(t, r.Missing, "COINBASE_API_SECRET")
	assert.Contains(t, r.Missing, "OPENAI_API_KEY")
	assert.NotContains(t, r.Missing, "COINBASE_API_KEY")
	assert.Equal(t, "false", r.Config["CREDENTIALS"])
	assert.Equal(t, "6", r.Config["FEE_BPS_TAKER"])
}
