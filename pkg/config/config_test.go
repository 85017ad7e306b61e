package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 150.0, cfg.Mesh.ProximityThreshold)
	assert.Equal(t, 16, cfg.Mesh.MaxLinks)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9999"
mesh:
  proximity_threshold: 200
  max_links: 4
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 200.0, cfg.Mesh.ProximityThreshold)
	assert.Equal(t, 4, cfg.Mesh.MaxLinks)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
mesh:
  proximity_threshold: -1
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proximity_threshold")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZONECAST_SERVER_ADDRESS", ":7777")
	t.Setenv("ZONECAST_JWT_SECRET", "env-secret")
	t.Setenv("ZONECAST_REDIS_ADDRESS", "redis.internal:6379")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }, "server.address"},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }, "ping_interval"},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 10000 }, "port_range"},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 20000
			c.WebRTC.PortRange.Max = 10000
		}, "port_range.min must be < max"},
		{"zero max links", func(c *Config) { c.Mesh.MaxLinks = 0 }, "max_links"},
		{"tracing without url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}, "jaeger_url"},
		{"bad sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}, "sample_rate"},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}, "redis.address"},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"rate limit without rate", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.MessagesPerSecond = 0
		}, "messages_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}
