package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"KITE_API_KEY", "KITE_ACCESS_TOKEN", "FINNHUB_TOKEN", "TRADEDESK_FEED", "TRADEDESK_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_CreatesTemplatesAndDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.FileExists(t, filepath.Join(dir, "credentials.toml"))
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, 1.0, cfg.Risk.TargetPct)
	assert.Equal(t, 0.5, cfg.Risk.StopLossPct)
	assert.Equal(t, 2*time.Second, cfg.Staging.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.Staging.SafetyTimeout)
	assert.Equal(t, "manual", cfg.Feed.Source)
	assert.Equal(t, "127.0.0.1:8765", cfg.SurfaceAddr())
	assert.Equal(t, filepath.Join(dir, "tradedesk.db"), cfg.Store.Path)
	assert.Equal(t, dir, cfg.Dir())

	sc := cfg.StagerConfig()
	assert.Equal(t, 200*time.Millisecond, sc.InterLegDelay)
	assert.Equal(t, 750*time.Millisecond, sc.SettleDelay)
	assert.Equal(t, 300*time.Millisecond, sc.FallbackDelay)
	assert.Equal(t, time.Second, sc.HoldPerLeg)
	assert.Equal(t, models.ProductMIS, sc.Product)
	assert.Equal(t, models.NSE, cfg.DefaultExchange())
}

func TestLoad_FileValuesAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[risk]
target_pct = 2.0
capital = 50000.0

[staging]
cooldown = "3s"
product = "cnc"

[feed]
source = "kite"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[zerodha]
api_key = "file-key"
access_token = "file-token"
`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FINNHUB_TOKEN=from-dotenv\n"), 0600))
	t.Setenv("KITE_ACCESS_TOKEN", "env-token")
	t.Setenv("TRADEDESK_FEED", "finnhub")
	// godotenv never overrides variables that are already set, so clear
	// this one to let the .env file supply it.
	require.NoError(t, os.Unsetenv("FINNHUB_TOKEN"))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Risk.TargetPct)
	assert.Equal(t, 0.5, cfg.Risk.StopLossPct)
	assert.Equal(t, 3*time.Second, cfg.Staging.Cooldown)
	assert.Equal(t, models.ProductCNC, cfg.StagerConfig().Product)
	assert.Equal(t, "file-key", cfg.Credentials.Zerodha.APIKey)
	assert.Equal(t, "env-token", cfg.Credentials.Zerodha.AccessToken)
	assert.Equal(t, "from-dotenv", cfg.Credentials.Finnhub.Token)
	assert.Equal(t, "finnhub", cfg.Feed.Source)

	r := cfg.RiskParameters()
	assert.Equal(t, 50000.0, r.Capital)
	assert.Equal(t, 5.0, r.Leverage)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative target", func(c *Config) { c.Risk.TargetPct = -1 }},
		{"negative capital", func(c *Config) { c.Risk.Capital = -5 }},
		{"leverage below one", func(c *Config) { c.Risk.Leverage = 0.5 }},
		{"negative cooldown", func(c *Config) { c.Staging.Cooldown = -time.Second }},
		{"unknown product", func(c *Config) { c.Staging.Product = "NRML" }},
		{"unknown feed", func(c *Config) { c.Feed.Source = "bloomberg" }},
		{"bad port", func(c *Config) { c.Surface.Port = 70000 }},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
		})
	}
}

func TestLoad_InvalidFileFails(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[feed]\nsource = \"carrier-pigeon\"\n"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}
