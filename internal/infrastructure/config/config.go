package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Wait      WaitConfig      `yaml:"wait"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig locates the MORK server.
type ServerConfig struct {
	URL       string `envconfig:"MORK_URL" default:"http://127.0.0.1:8000" yaml:"url"`
	Namespace string `envconfig:"MORK_NAMESPACE" yaml:"namespace"`
	Handshake bool   `envconfig:"MORK_HANDSHAKE" default:"true" yaml:"handshake"`
}

// WaitConfig bounds request completion waits.
type WaitConfig struct {
	PollInterval    time.Duration `envconfig:"MORK_POLL_INTERVAL" default:"25ms" yaml:"poll_interval"`
	MaxPollInterval time.Duration `envconfig:"MORK_POLL_MAX" default:"1s" yaml:"max_poll_interval"`
	PollMultiplier  float64       `envconfig:"MORK_POLL_MULTIPLIER" default:"1.5" yaml:"poll_multiplier"`
	Timeout         time.Duration `envconfig:"MORK_WAIT_TIMEOUT" default:"5m" yaml:"timeout"`
}

// TransportConfig tunes the HTTP transport.
type TransportConfig struct {
	StreamMode        string        `envconfig:"MORK_STREAM_MODE" default:"sse" yaml:"stream_mode"`
	Timeout           time.Duration `envconfig:"MORK_HTTP_TIMEOUT" default:"30s" yaml:"timeout"`
	RetryCount        int           `envconfig:"MORK_RETRY_COUNT" default:"3" yaml:"retry_count"`
	RetryWait         time.Duration `envconfig:"MORK_RETRY_WAIT" default:"200ms" yaml:"retry_wait"`
	RetryMaxWait      time.Duration `envconfig:"MORK_RETRY_MAX_WAIT" default:"5s" yaml:"retry_max_wait"`
	RateLimitRPS      float64       `envconfig:"MORK_RATE_LIMIT_RPS" default:"0" yaml:"rate_limit_rps"`
	CompressThreshold int           `envconfig:"MORK_COMPRESS_THRESHOLD" default:"65536" yaml:"compress_threshold"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// MetricsConfig controls the optional Prometheus endpoint of morkctl.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" yaml:"addr"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment, then applies a YAML file on top. Keys
// present in the file win over environment variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:       "http://127.0.0.1:8000",
			Handshake: true,
		},
		Wait: WaitConfig{
			PollInterval:    25 * time.Millisecond,
			MaxPollInterval: time.Second,
			PollMultiplier:  1.5,
			Timeout:         5 * time.Minute,
		},
		Transport: TransportConfig{
			StreamMode:        "sse",
			Timeout:           30 * time.Second,
			RetryCount:        3,
			RetryWait:         200 * time.Millisecond,
			RetryMaxWait:      5 * time.Second,
			CompressThreshold: 64 * 1024,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server url %q must be absolute", c.Server.URL))
	}
	if c.Wait.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Wait.MaxPollInterval < c.Wait.PollInterval {
		errs = append(errs, errors.New("max poll interval must not be below poll interval"))
	}
	if c.Wait.PollMultiplier < 1 {
		errs = append(errs, errors.New("poll multiplier must be at least 1"))
	}
	if c.Wait.Timeout <= 0 {
		errs = append(errs, errors.New("wait timeout must be positive"))
	}
	switch strings.ToLower(c.Transport.StreamMode) {
	case "sse", "websocket", "poll":
	default:
		errs = append(errs, fmt.Errorf("stream mode %q must be sse, websocket or poll", c.Transport.StreamMode))
	}
	if c.Transport.RetryCount < 0 {
		errs = append(errs, errors.New("retry count cannot be negative"))
	}
	if c.Transport.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limit cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NamespaceSegments splits Server.Namespace ("a/b") into path segments.
func (c *Config) NamespaceSegments() []string {
	var segments []string
	for _, s := range strings.Split(c.Server.Namespace, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
