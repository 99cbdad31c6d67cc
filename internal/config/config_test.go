package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Chains.TriggerOffset)
	assert.Equal(t, 48*time.Hour, cfg.Chains.ExpiryWindow)
	assert.Equal(t, 10, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Queue.Retry.MaxDelay)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, Validate(cfg))
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewchain.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[chains]
trigger_offset = "30m"
expiry_window = "24h"

[queue.retry]
base_delay = "2s"
`), 0o644))

	t.Setenv("REVIEWCHAIN_CHAINS__EXPIRY_WINDOW", "72h")
	t.Setenv("REVIEWCHAIN_AUTH__JWT_SECRET", "s3cret")
	t.Setenv("REVIEWCHAIN_QUEUE__MAX_WORKERS", "4")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Chains.TriggerOffset)
	assert.Equal(t, 72*time.Hour, cfg.Chains.ExpiryWindow, "environment overrides the file")
	assert.Equal(t, 2*time.Second, cfg.Queue.Retry.BaseDelay)
	assert.Equal(t, 4, cfg.Queue.MaxWorkers)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestInitConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewchain.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	assert.Contains(t, cfg.Database.URL, "postgres://")
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero expiry window", func(c *Config) { c.Chains.ExpiryWindow = 0 }},
		{"negative trigger offset", func(c *Config) { c.Chains.TriggerOffset = -time.Minute }},
		{"no workers", func(c *Config) { c.Queue.MaxWorkers = 0 }},
		{"no attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"max below base delay", func(c *Config) { c.Queue.Retry.MaxDelay = time.Millisecond }},
		{"shrinking multiplier", func(c *Config) { c.Queue.Retry.Multiplier = 0.5 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative rate limit", func(c *Config) { c.RateLimit.RPS = -1 }},
		{"rate limit without burst", func(c *Config) { c.RateLimit.Burst = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAllowsDisabledRateLimit(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	cfg.RateLimit.RPS = 0
	cfg.RateLimit.Burst = 0
	assert.NoError(t, Validate(cfg))
}
