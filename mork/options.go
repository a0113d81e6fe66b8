package mork

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/config"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/logging"
	"github.com/GriffinCanCode/morkclient/internal/infrastructure/monitoring"
)

// WaitConfig bounds request completion waits.
type WaitConfig struct {
	// PollInterval is the first delay between status polls.
	PollInterval time.Duration
	// MaxPollInterval caps the poll delay.
	MaxPollInterval time.Duration
	// PollMultiplier grows the delay after every poll that is not terminal.
	PollMultiplier float64
	// Timeout bounds a wait whose context carries no deadline.
	Timeout time.Duration
}

// DefaultWaitConfig returns the default wait bounds.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		PollInterval:    25 * time.Millisecond,
		MaxPollInterval: time.Second,
		PollMultiplier:  1.5,
		Timeout:         5 * time.Minute,
	}
}

// WaitConfigFrom maps loaded configuration onto a WaitConfig.
func WaitConfigFrom(cfg *config.Config) WaitConfig {
	return WaitConfig{
		PollInterval:    cfg.Wait.PollInterval,
		MaxPollInterval: cfg.Wait.MaxPollInterval,
		PollMultiplier:  cfg.Wait.PollMultiplier,
		Timeout:         cfg.Wait.Timeout,
	}
}

func (w WaitConfig) normalize() WaitConfig {
	def := DefaultWaitConfig()
	if w.PollInterval <= 0 {
		w.PollInterval = def.PollInterval
	}
	if w.MaxPollInterval < w.PollInterval {
		w.MaxPollInterval = w.PollInterval
	}
	if w.PollMultiplier < 1 {
		w.PollMultiplier = 1
	}
	if w.Timeout <= 0 {
		w.Timeout = def.Timeout
	}
	return w
}

// next returns the poll delay following d.
func (w WaitConfig) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * w.PollMultiplier)
	if n > w.MaxPollInterval {
		return w.MaxPollInterval
	}
	return n
}

// Option configures a root Session.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	wait      WaitConfig
	namespace []string
}

func newOptions(opts []Option) *options {
	o := &options{wait: DefaultWaitConfig()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger).Named("mork")
	o.wait = o.wait.normalize()
	return o
}

// WithLogger sets the logger used by the session and its children.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records request and wait metrics into m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWaitConfig overrides the wait bounds.
func WithWaitConfig(w WaitConfig) Option {
	return func(o *options) { o.wait = w }
}

// WithNamespace binds the root session to a default namespace.
func WithNamespace(segments ...string) Option {
	return func(o *options) { o.namespace = append([]string(nil), segments...) }
}
