package delivery

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Connections prometheus.Gauge
	Disconnects *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "library",
			Subsystem: "delivery",
			Name:      "connections",
			Help:      "Open subscription connections.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "delivery",
			Name:      "disconnects_total",
			Help:      "Closed subscription connections by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Connections, m.Disconnects)
	return m
}

func (m *Metrics) connected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) disconnected(reason string) {
	if m != nil {
		m.Connections.Dec()
		m.Disconnects.WithLabelValues(reason).Inc()
	}
}
