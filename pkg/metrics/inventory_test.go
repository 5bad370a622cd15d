package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInventoryMetricsRecordsDriftBySign(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInventoryMetrics(reg)

	m.ObserveDrift("depot", -2)
	m.ObserveDrift("depot", 3)
	m.ObserveDrift("customer_site", -1)
	m.ObserveConfirm("distribution", "confirmed")
	m.IncReconcileFailure()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "inventory_drift_detected_total", "sign", "negative"); err != nil {
		t.Fatalf("fetch negative drift: %v", err)
	} else if got != 2 {
		t.Fatalf("expected negative drift=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_drift_detected_total", "sign", "positive"); err != nil {
		t.Fatalf("fetch positive drift: %v", err)
	} else if got != 1 {
		t.Fatalf("expected positive drift=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "inventory_drift_units", "location_type", "depot"); err != nil {
		t.Fatalf("fetch drift units: %v", err)
	} else if got != 5 {
		t.Fatalf("expected depot drift units=5, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_event_confirm_total", "result", "confirmed"); err != nil {
		t.Fatalf("fetch confirms: %v", err)
	} else if got != 1 {
		t.Fatalf("expected confirms=1, got %f", got)
	}
	if mf := findMetricFamily(mfs, "inventory_reconciliation_failures_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one reconciliation failure")
	}
}

func TestNilInventoryMetricsAreNoops(t *testing.T) {
	var m *InventoryMetrics
	m.ObserveDrift("depot", 1)
	m.ObserveConfirm("transaction", "failed")
	m.IncReconcileFailure()

	NewInventoryMetrics(nil).ObserveDrift("depot", 1)
}

func TestDriftWatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDriftWatchMetrics(reg)

	m.ObserveMessage("inventory_drift_corrected", "handled")
	m.ObserveMessage("inventory_drift_corrected", "handled")
	m.IncStreakAlert("depot", "negative")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "inventory_driftwatch_messages_total", "result", "handled"); err != nil {
		t.Fatalf("fetch consumed: %v", err)
	} else if got != 2 {
		t.Fatalf("expected handled=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_drift_streak_alerts_total", "sign", "negative"); err != nil {
		t.Fatalf("fetch streak alerts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one streak alert, got %f", got)
	}

	var nilMetrics *DriftWatchMetrics
	nilMetrics.ObserveMessage("x", "y")
	nilMetrics.IncStreakAlert("x", "y")
}

func TestEmptyLabelsFallBackToUnknown(t *testing.T) {
	reg := prometheus.NewRegistry()
	inv := NewInventoryMetrics(reg)
	drift := NewDriftWatchMetrics(reg)

	inv.ObserveConfirm("", "")
	drift.ObserveMessage("", "invalid")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "inventory_event_confirm_total", "kind", "unknown", "result", "unknown"); err != nil {
		t.Fatalf("fetch confirms: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one unknown confirm, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "inventory_driftwatch_messages_total", "event_type", "unknown", "result", "invalid"); err != nil {
		t.Fatalf("fetch consumed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected one unknown message, got %f", got)
	}
	if normalizeLabel("depot") != "depot" {
		t.Fatal("non-empty labels must pass through")
	}
}
