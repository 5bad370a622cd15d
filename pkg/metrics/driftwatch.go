package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DriftWatchMetrics tracks the drift watcher's message handling and streak alerts.
type DriftWatchMetrics struct {
	consumed     *prometheus.CounterVec
	streakAlerts *prometheus.CounterVec
}

func NewDriftWatchMetrics(reg prometheus.Registerer) *DriftWatchMetrics {
	if reg == nil {
		return &DriftWatchMetrics{}
	}
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_driftwatch_messages_total",
		Help: "Inventory messages consumed by the drift watcher, by event type and result.",
	}, []string{"event_type", "result"})
	streakAlerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_drift_streak_alerts_total",
		Help: "Pairs whose drift kept the same sign across consecutive reconciliation runs.",
	}, []string{"location_type", "sign"})
	reg.MustRegister(consumed, streakAlerts)
	return &DriftWatchMetrics{consumed: consumed, streakAlerts: streakAlerts}
}

// ObserveMessage counts one consumed message.
func (m *DriftWatchMetrics) ObserveMessage(eventType, result string) {
	if m == nil || m.consumed == nil {
		return
	}
	m.consumed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// IncStreakAlert counts a pair crossing the streak threshold.
func (m *DriftWatchMetrics) IncStreakAlert(locationType, sign string) {
	if m == nil || m.streakAlerts == nil {
		return
	}
	m.streakAlerts.WithLabelValues(normalizeLabel(locationType), normalizeLabel(sign)).Inc()
}
