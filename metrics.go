package quill

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are the collectors of one App. Each App has its own registry so
// several apps (or tests) can live in one process.
type metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	callbacks      *prometheus.CounterVec
	routeMisses    prometheus.Counter
	protocolErrors *prometheus.CounterVec
	panics         prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quill",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Name:      "renders_total",
			Help:      "Page renders by result.",
		}, []string{"result"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quill",
			Name:      "render_duration_seconds",
			Help:      "Time to build, serialize, encrypt and send a page.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Name:      "callbacks_total",
			Help:      "Client callbacks by result (ok, error, unknown).",
		}, []string{"result"}),
		routeMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quill",
			Name:      "route_misses_total",
			Help:      "Navigations that matched no route.",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quill",
			Name:      "protocol_errors_total",
			Help:      "Dropped client frames by kind.",
		}, []string{"kind"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quill",
			Name:      "panics_total",
			Help:      "Panics recovered from page, component and handler code.",
		}),
	}
	m.registry.MustRegister(
		m.connections,
		m.renders,
		m.renderDuration,
		m.callbacks,
		m.routeMisses,
		m.protocolErrors,
		m.panics,
	)
	return m
}

// MetricsHandler serves the App's metrics in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{})
}

// Registry returns the App's metrics registry so callers can add their own
// collectors.
func (a *App) Registry() *prometheus.Registry {
	return a.metrics.registry
}
