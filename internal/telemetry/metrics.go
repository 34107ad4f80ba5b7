package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/machine-allocator/internal/machine"
)

const namespace = "machinealloc"

// Metrics holds the allocator's prometheus collectors.
type Metrics struct {
	registry     *prometheus.Registry
	results      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	unauthorized prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Engine operation results by operation and status code.",
		}, []string{"operation", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency, including device calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machine_transitions_total",
			Help:      "Committed machine status transitions.",
		}, []string{"from", "to"}),
		unauthorized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_requests_total",
			Help:      "Requests rejected by the identity check.",
		}),
	}

	m.registry.MustRegister(
		m.results,
		m.duration,
		m.transitions,
		m.unauthorized,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition counts a committed transition.
func (m *Metrics) ObserveTransition(_ context.Context, ev machine.Event) {
	m.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
}

// ObserveResult records the outcome and latency of an engine operation.
func (m *Metrics) ObserveResult(operation string, code machine.StatusCode, elapsed time.Duration) {
	m.results.WithLabelValues(operation, string(code)).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveUnauthorized counts a request rejected before dispatch.
func (m *Metrics) ObserveUnauthorized() {
	m.unauthorized.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
