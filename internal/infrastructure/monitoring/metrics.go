package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one client.
type Metrics struct {
	registry *prometheus.Registry

	RequestsIssued    *prometheus.CounterVec
	RequestsFinished  *prometheus.CounterVec
	WaitDuration      *prometheus.HistogramVec
	WaitOutcomes      *prometheus.CounterVec
	StreamFallbacks   prometheus.Counter
	PendingLeaked     prometheus.Counter
	ScopesReleased    *prometheus.CounterVec
	TransportCalls    *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	BreakerState      prometheus.Gauge
}

// NewMetrics creates a metrics collector with a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mork_requests_issued_total",
				Help: "Requests submitted to the server",
			},
			[]string{"kind"},
		),
		RequestsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mork_requests_finished_total",
				Help: "Requests observed reaching a terminal state",
			},
			[]string{"kind", "state"},
		),
		WaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mork_wait_duration_seconds",
				Help:    "Time spent waiting for request completion",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "strategy"},
		),
		WaitOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mork_wait_outcomes_total",
				Help: "Wait results by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		StreamFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mork_stream_fallbacks_total",
				Help: "Status streams that ended early and fell back to polling",
			},
		),
		PendingLeaked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mork_pending_leaked_total",
				Help: "Requests still pending when their session was released",
			},
		),
		ScopesReleased: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mork_scopes_released_total",
				Help: "Session scopes released",
			},
			[]string{"auto_clear", "outcome"},
		),
		TransportCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mork_transport_calls_total",
				Help: "Transport calls by operation and status",
			},
			[]string{"op", "status"},
		),
		TransportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mork_transport_duration_seconds",
				Help:    "Transport call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mork_transport_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterRuntime adds the Go runtime and process collectors.
func (m *Metrics) RegisterRuntime() {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes m in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordIssued counts a submitted request.
func (m *Metrics) RecordIssued(kind string) {
	if m == nil {
		return
	}
	m.RequestsIssued.WithLabelValues(kind).Inc()
}

// RecordFinished counts a request reaching a terminal state.
func (m *Metrics) RecordFinished(kind, state string) {
	if m == nil {
		return
	}
	m.RequestsFinished.WithLabelValues(kind, state).Inc()
}

// RecordWait records how one wait ended.
func (m *Metrics) RecordWait(kind, strategy, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WaitDuration.WithLabelValues(kind, strategy).Observe(duration.Seconds())
	m.WaitOutcomes.WithLabelValues(strategy, outcome).Inc()
}

// IncStreamFallbacks counts a stream that ended before a terminal event.
func (m *Metrics) IncStreamFallbacks() {
	if m == nil {
		return
	}
	m.StreamFallbacks.Inc()
}

// AddPendingLeaked counts pending requests found at release.
func (m *Metrics) AddPendingLeaked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PendingLeaked.Add(float64(n))
}

// RecordScopeRelease counts a released scope.
func (m *Metrics) RecordScopeRelease(autoClear bool, outcome string) {
	if m == nil {
		return
	}
	label := "false"
	if autoClear {
		label = "true"
	}
	m.ScopesReleased.WithLabelValues(label, outcome).Inc()
}

// RecordTransportCall records one transport call.
func (m *Metrics) RecordTransportCall(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransportCalls.WithLabelValues(op, status).Inc()
	m.TransportDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetBreakerState publishes the transport circuit breaker state.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.BreakerState.Set(float64(state))
}

// Timer measures a transport call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	op      string
}

// NewTimer starts timing op.
func NewTimer(metrics *Metrics, op string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		op:      op,
	}
}

// Stop records the elapsed time under status.
func (t *Timer) Stop(status string) {
	t.metrics.RecordTransportCall(t.op, status, time.Since(t.start))
}
