package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics tracks event confirmations and reconciliation drift.
type InventoryMetrics struct {
	confirms        *prometheus.CounterVec
	driftDetected   *prometheus.CounterVec
	driftUnits      *prometheus.HistogramVec
	reconcileFailed prometheus.Counter
}

// NewInventoryMetrics registers the inventory metrics on the provided registerer.
func NewInventoryMetrics(reg prometheus.Registerer) *InventoryMetrics {
	if reg == nil {
		return &InventoryMetrics{}
	}
	confirms := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_event_confirm_total",
		Help: "Event confirmation attempts by kind and result.",
	}, []string{"kind", "result"})
	driftDetected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_drift_detected_total",
		Help: "Snapshot rows found out of sync with the ledger, by drift sign.",
	}, []string{"sign"})
	driftUnits := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_drift_units",
		Help:    "Absolute size of corrected drift in units.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500},
	}, []string{"location_type"})
	reconcileFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reconciliation_failures_total",
		Help: "Pairs that could not be reconciled in a run.",
	})
	reg.MustRegister(confirms, driftDetected, driftUnits, reconcileFailed)
	return &InventoryMetrics{
		confirms:        confirms,
		driftDetected:   driftDetected,
		driftUnits:      driftUnits,
		reconcileFailed: reconcileFailed,
	}
}

// ObserveConfirm counts a confirm call outcome.
func (m *InventoryMetrics) ObserveConfirm(kind, result string) {
	if m == nil || m.confirms == nil {
		return
	}
	m.confirms.WithLabelValues(normalizeLabel(kind), normalizeLabel(result)).Inc()
}

// ObserveDrift records one corrected snapshot.
func (m *InventoryMetrics) ObserveDrift(locationType string, delta int64) {
	if m == nil || m.driftDetected == nil {
		return
	}
	sign := "positive"
	abs := delta
	if delta < 0 {
		sign = "negative"
		abs = -delta
	}
	m.driftDetected.WithLabelValues(sign).Inc()
	m.driftUnits.WithLabelValues(normalizeLabel(locationType)).Observe(float64(abs))
}

// IncReconcileFailure counts a pair that failed during reconciliation.
func (m *InventoryMetrics) IncReconcileFailure() {
	if m == nil || m.reconcileFailed == nil {
		return
	}
	m.reconcileFailed.Inc()
}
