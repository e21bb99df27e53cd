package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the pipeline's decision counters and latency. Wire it
// into [Config.Metrics] and serve the registry with promhttp alongside
// the application.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
	inFlight  prometheus.Gauge
}

// NewMetrics creates and registers the gateway metric set. reg defaults
// to [prometheus.DefaultRegisterer] when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_decisions_total",
				Help: "Admission pipeline decisions by outcome and denial code.",
			},
			[]string{"decision", "code"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateway_decision_duration_seconds",
				Help:    "Latency of the admission pipeline, excluding the handler.",
				Buckets: prometheus.DefBuckets,
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_in_flight_requests",
				Help: "Requests currently inside the admission pipeline or handler.",
			},
		),
	}
	reg.MustRegister(m.decisions, m.duration, m.inFlight)
	return m
}

func (m *Metrics) observe(decision, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, code).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) enter() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) exit() {
	if m != nil {
		m.inFlight.Dec()
	}
}
