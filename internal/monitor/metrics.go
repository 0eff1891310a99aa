package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pdfrender"

// promMetrics holds the Prometheus collectors of one System. They are
// registered on a private registry so several Systems can coexist.
type promMetrics struct {
	// OperationsTotal counts completed operations.
	// Labels: outcome (success, failure)
	OperationsTotal *prometheus.CounterVec

	// ErrorsTotal counts classified errors.
	// Labels: type (network-error, timeout-error, ...)
	ErrorsTotal *prometheus.CounterVec

	// RenderDurationSeconds measures operation duration.
	// Labels: method, outcome
	RenderDurationSeconds *prometheus.HistogramVec

	// ActiveOperations tracks operations in flight.
	ActiveOperations prometheus.Gauge

	// ActiveAlerts tracks unacknowledged alerts.
	ActiveAlerts prometheus.Gauge

	// MemoryBytes is the memory sample of the last completed operation.
	MemoryBytes prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	f := promauto.With(reg)
	return &promMetrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of rendering operations by outcome",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Total number of classified rendering errors by type",
			},
			[]string{"type"},
		),
		RenderDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of rendering operations",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
			},
			[]string{"method", "outcome"},
		),
		ActiveOperations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_operations",
			Help:      "Number of rendering operations in flight",
		}),
		ActiveAlerts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_alerts",
			Help:      "Number of unacknowledged alerts",
		}),
		MemoryBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "memory_bytes",
			Help:      "Memory sampled at the end of the last operation",
		}),
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
