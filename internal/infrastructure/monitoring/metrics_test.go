package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordIssued("upload")
	m.RecordIssued("upload")
	m.RecordFinished("upload", "completed")
	m.RecordWait("upload", "poll", "completed", 20*time.Millisecond)
	m.IncStreamFallbacks()
	m.AddPendingLeaked(3)
	m.AddPendingLeaked(0)
	m.RecordScopeRelease(true, "ok")
	m.SetBreakerState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsIssued.WithLabelValues("upload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsFinished.WithLabelValues("upload", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitOutcomes.WithLabelValues("poll", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamFallbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingLeaked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScopesReleased.WithLabelValues("true", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
}

func TestMetricsIndependentRegistries(t *testing.T) {
	// two collectors in one process must not collide
	a := NewMetrics()
	b := NewMetrics()

	a.RecordIssued("clear")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RequestsIssued.WithLabelValues("clear")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RequestsIssued.WithLabelValues("clear")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordIssued("upload")
		m.RecordFinished("upload", "failed")
		m.RecordWait("upload", "stream", "timeout", time.Second)
		m.IncStreamFallbacks()
		m.AddPendingLeaked(1)
		m.RecordScopeRelease(false, "ok")
		m.RecordTransportCall("send", "ok", time.Millisecond)
		m.SetBreakerState(0)
		NewTimer(m, "status").Stop("ok")
		m.RegisterRuntime()
	})
	assert.Nil(t, m.Registry())
}

func TestTimer(t *testing.T) {
	m := NewMetrics()

	NewTimer(m, "send").Stop("ok")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransportCalls.WithLabelValues("send", "ok")))
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordIssued("download")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mork_requests_issued_total{kind="download"} 1`)
}
