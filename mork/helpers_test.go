package mork_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/morkclient/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/morkclient/internal/morktest"
	"github.com/GriffinCanCode/morkclient/mork"
	"github.com/GriffinCanCode/morkclient/transport"
)

type fixture struct {
	t       *testing.T
	srv     *morktest.Server
	tr      *transport.HTTP
	root    *mork.Session
	metrics *monitoring.Metrics
}

type fixtureConfig struct {
	mode    transport.StreamMode
	server  []morktest.Option
	logger  *zap.Logger
	timeout time.Duration
}

type fixtureOption func(*fixtureConfig)

func withStreamMode(mode transport.StreamMode) fixtureOption {
	return func(c *fixtureConfig) { c.mode = mode }
}

func withServer(opts ...morktest.Option) fixtureOption {
	return func(c *fixtureConfig) { c.server = append(c.server, opts...) }
}

func withLogger(l *zap.Logger) fixtureOption {
	return func(c *fixtureConfig) { c.logger = l }
}

func withWaitTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.timeout = d }
}

func testWait(timeout time.Duration) mork.WaitConfig {
	return mork.WaitConfig{
		PollInterval:    2 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
		PollMultiplier:  2,
		Timeout:         timeout,
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{mode: transport.StreamSSE, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := morktest.New(t, cfg.server...)

	hc := transport.DefaultHTTPConfig(srv.URL)
	hc.StreamMode = cfg.mode
	hc.Timeout = 5 * time.Second
	hc.RetryCount = 0
	tr, err := transport.NewHTTP(hc)
	require.NoError(t, err)

	metrics := monitoring.NewMetrics()
	root, err := mork.New(tr,
		mork.WithWaitConfig(testWait(cfg.timeout)),
		mork.WithMetrics(metrics),
		mork.WithLogger(cfg.logger))
	require.NoError(t, err)

	return &fixture{t: t, srv: srv, tr: tr, root: root, metrics: metrics}
}

// block waits for a request returned by a session operation.
func (f *fixture) block(req *mork.Request, err error) *mork.Request {
	f.t.Helper()
	require.NoError(f.t, err)
	_, err = req.Block(context.Background())
	require.NoError(f.t, err)
	return req
}

func child(t *testing.T, s *mork.Session, name string) *mork.Session {
	t.Helper()
	c, err := s.WorkAt(name)
	require.NoError(t, err)
	return c
}

func download(t *testing.T, s *mork.Session) []string {
	t.Helper()
	req, err := s.Download(context.Background())
	require.NoError(t, err)
	return req.Result().Facts()
}
