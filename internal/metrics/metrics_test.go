package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Send("sent")
	m.Send("sent")
	m.Send("seen")
	m.Enqueued("web")
	m.Drained("mobile", 3)
	m.Drained("mobile", 0)
	m.Degraded("publish")
	m.Transition("delivered")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sends.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("seen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("web")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.drained.WithLabelValues("mobile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("delivered")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Send("sent")
		m.Enqueued("web")
		m.Drained("web", 1)
		m.Degraded("enqueue")
		m.Transition("seen")
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Send("delivered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `delivery_sends_total{status="delivered"} 1`)
}
