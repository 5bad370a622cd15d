package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Publish outcomes recorded by OutboxMetrics.
const (
	PublishPublished    = "published"
	PublishRetry        = "retry"
	PublishDeadLettered = "dead_lettered"
)

// OutboxMetrics covers the outbox relay.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
	lag       *prometheus.HistogramVec
	batches   prometheus.Counter
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_publish_lag_seconds",
			Help:    "Time between queuing an outbox row and publishing it.",
			Buckets: []float64{0.05, 0.25, 1, 5, 30, 120, 600, 3600},
		}, []string{"event_type"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_batches_total",
			Help: "Non-empty batches claimed by the relay.",
		}),
	}
	reg.MustRegister(m.publishes, m.lag, m.batches)
	return m
}

func (m *OutboxMetrics) ObservePublish(eventType, outcome string) {
	if m == nil || m.publishes == nil {
		return
	}
	m.publishes.WithLabelValues(eventType, outcome).Inc()
}

// ObserveLag records how long a published row waited in the outbox.
func (m *OutboxMetrics) ObserveLag(eventType string, lag time.Duration) {
	if m == nil || m.lag == nil || lag < 0 {
		return
	}
	m.lag.WithLabelValues(eventType).Observe(lag.Seconds())
}

func (m *OutboxMetrics) IncBatch() {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Inc()
}
