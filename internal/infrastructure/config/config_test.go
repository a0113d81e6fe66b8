package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Server.URL)
	assert.Empty(t, cfg.Server.Namespace)
	assert.True(t, cfg.Server.Handshake)

	assert.Equal(t, 25*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, time.Second, cfg.Wait.MaxPollInterval)
	assert.Equal(t, 1.5, cfg.Wait.PollMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Wait.Timeout)

	assert.Equal(t, "sse", cfg.Transport.StreamMode)
	assert.Equal(t, 3, cfg.Transport.RetryCount)
	assert.Equal(t, 64*1024, cfg.Transport.CompressThreshold)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"MORK_URL":            "http://mork:9000",
		"MORK_NAMESPACE":      "demo/inner",
		"MORK_POLL_INTERVAL":  "10ms",
		"MORK_WAIT_TIMEOUT":   "30s",
		"MORK_STREAM_MODE":    "websocket",
		"MORK_RATE_LIMIT_RPS": "50",
		"LOG_LEVEL":           "debug",
		"LOG_DEV":             "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://mork:9000", cfg.Server.URL)
	assert.Equal(t, []string{"demo", "inner"}, cfg.NamespaceSegments())
	assert.Equal(t, 10*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Wait.Timeout)
	assert.Equal(t, "websocket", cfg.Transport.StreamMode)
	assert.Equal(t, 50.0, cfg.Transport.RateLimitRPS)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("MORK_STREAM_MODE", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, "sse", cfg.Transport.StreamMode)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("MORK_URL", "http://from-env:8000")
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "mork.yaml")
	content := `
server:
  url: http://from-file:8000
  namespace: play0
wait:
  poll_interval: 5ms
  timeout: 1m
transport:
  stream_mode: websocket
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:8000", cfg.Server.URL)
	assert.Equal(t, "play0", cfg.Server.Namespace)
	assert.Equal(t, 5*time.Millisecond, cfg.Wait.PollInterval)
	assert.Equal(t, time.Minute, cfg.Wait.Timeout)
	assert.Equal(t, "websocket", cfg.Transport.StreamMode)
	// not in the file, so the environment applies
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Wait.MaxPollInterval)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative url", func(c *Config) { c.Server.URL = "mork:8000" }},
		{"zero poll interval", func(c *Config) { c.Wait.PollInterval = 0 }},
		{"cap below interval", func(c *Config) { c.Wait.MaxPollInterval = time.Millisecond }},
		{"shrinking multiplier", func(c *Config) { c.Wait.PollMultiplier = 0.5 }},
		{"zero timeout", func(c *Config) { c.Wait.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.Transport.RetryCount = -1 }},
		{"negative rate", func(c *Config) { c.Transport.RateLimitRPS = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateStreamModes(t *testing.T) {
	for _, mode := range []string{"sse", "websocket", "poll", "POLL"} {
		cfg := Default()
		cfg.Transport.StreamMode = mode
		assert.NoError(t, cfg.Validate(), mode)
	}

	cfg := Default()
	cfg.Transport.StreamMode = "smoke-signals"
	assert.ErrorContains(t, cfg.Validate(), "stream mode")
}

func TestNamespaceSegments(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.NamespaceSegments())

	cfg.Server.Namespace = "/a//b/ "
	assert.Equal(t, []string{"a", "b"}, cfg.NamespaceSegments())
}
