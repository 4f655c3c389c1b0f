// internal/catalog/metrics.go
package catalog

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts dispatched operations by outcome.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "catalog",
			Name:      "operations_total",
			Help:      "Dispatched operations by name and result code.",
		}, []string{"operation", "code"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "library",
			Subsystem: "catalog",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Operations, m.Duration)
	return m
}

func (m *Metrics) observe(op string, kind Kind, d time.Duration) {
	if m == nil {
		return
	}
	code := string(kind)
	if code == "" {
		code = "OK"
	}
	m.Operations.WithLabelValues(op, code).Inc()
	if d > 0 {
		m.Duration.WithLabelValues(op).Observe(d.Seconds())
	}
}
