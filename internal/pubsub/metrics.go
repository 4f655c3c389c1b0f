package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by a Bus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Published   *prometheus.CounterVec
	Delivered   *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	Subscribers *prometheus.GaugeVec
}

// NewMetrics creates the bus collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Events published by topic.",
		}, []string{"topic"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "pubsub",
			Name:      "delivered_total",
			Help:      "Events enqueued to subscriptions by topic.",
		}, []string{"topic"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "library",
			Subsystem: "pubsub",
			Name:      "dropped_subscriptions_total",
			Help:      "Subscriptions closed because their queue overflowed.",
		}, []string{"topic"}),
		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "library",
			Subsystem: "pubsub",
			Name:      "subscribers",
			Help:      "Open subscriptions by topic.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Published, m.Delivered, m.Dropped, m.Subscribers)
	return m
}

func (m *Metrics) published(topic string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Inc()
	m.Delivered.WithLabelValues(topic).Add(float64(delivered))
	if dropped > 0 {
		m.Dropped.WithLabelValues(topic).Add(float64(dropped))
	}
}

func (m *Metrics) subscribed(topic string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(topic).Inc()
}

func (m *Metrics) unsubscribed(topic string) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(topic).Dec()
}
