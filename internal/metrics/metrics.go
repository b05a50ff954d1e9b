package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	reg         *prometheus.Registry
	sends       *prometheus.CounterVec
	enqueued    *prometheus.CounterVec
	drained     *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_sends_total",
			Help: "Messages accepted, by initial status",
		}, []string{"status"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_pending_enqueued_total",
			Help: "Entries buffered for offline devices",
		}, []string{"device"}),
		drained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_pending_drained_total",
			Help: "Entries handed to reconnecting devices",
		}, []string{"device"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_degraded_total",
			Help: "Recovered failures after a message was persisted",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_status_transitions_total",
			Help: "Persisted status upgrades applied by the reconciler",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sends, m.enqueued, m.drained, m.degraded, m.transitions,
	)
	return m
}

func (m *Metrics) Send(status string) {
	if m != nil {
		m.sends.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Enqueued(device string) {
	if m != nil {
		m.enqueued.WithLabelValues(device).Inc()
	}
}

func (m *Metrics) Drained(device string, n int) {
	if m != nil && n > 0 {
		m.drained.WithLabelValues(device).Add(float64(n))
	}
}

func (m *Metrics) Degraded(reason string) {
	if m != nil {
		m.degraded.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transition(status string) {
	if m != nil {
		m.transitions.WithLabelValues(status).Inc()
	}
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
