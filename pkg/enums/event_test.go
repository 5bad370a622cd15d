package enums

import "testing"

func TestEventKindAllowsTxType(t *testing.T) {
	cases := []struct {
		kind    EventKind
		txType  TxType
		allowed bool
	}{
		{EventKindDistribution, TxTypeTransfer, true},
		{EventKindDistribution, TxTypeLoad, true},
		{EventKindDistribution, TxTypeUnload, true},
		{EventKindDistribution, TxTypeManualAdjustment, true},
		{EventKindDistribution, TxTypeDelivery, false},
		{EventKindTransaction, TxTypeDelivery, true},
		{EventKindTransaction, TxTypeCollection, true},
		{EventKindTransaction, TxTypeReturn, true},
		{EventKindTransaction, TxTypeTransfer, false},
		{EventKindDistribution, TxTypeReconciliationAdjustment, false},
		{EventKindTransaction, TxTypeReconciliationAdjustment, false},
		{EventKind("bogus"), TxTypeDelivery, false},
	}
	for _, tc := range cases {
		if got := tc.kind.AllowsTxType(tc.txType); got != tc.allowed {
			t.Fatalf("%s/%s: expected %v got %v", tc.kind, tc.txType, tc.allowed, got)
		}
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParseEventKind("refund"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
	if _, err := ParseTxType("delivery"); err == nil {
		t.Fatal("tx types are case sensitive")
	}
	if v, err := ParseTxType("RECONCILIATION_ADJUSTMENT"); err != nil || v != TxTypeReconciliationAdjustment {
		t.Fatalf("unexpected parse result %q %v", v, err)
	}
	if _, err := ParseLocationType("truck"); err == nil {
		t.Fatal("expected unknown location type to fail")
	}
}

func TestMovementDirectionSides(t *testing.T) {
	if !MovementOut.NeedsSource() || MovementOut.NeedsDestination() {
		t.Fatal("out should only need a source")
	}
	if MovementIn.NeedsSource() || !MovementIn.NeedsDestination() {
		t.Fatal("in should only need a destination")
	}
	if !MovementTransfer.NeedsSource() || !MovementTransfer.NeedsDestination() {
		t.Fatal("transfer should need both sides")
	}
}

func TestOutboxEnums(t *testing.T) {
	if _, err := ParseOutboxEventType("inventory_drift_corrected"); err != nil {
		t.Fatalf("expected drift event type to parse: %v", err)
	}
	if _, err := ParseOutboxEventType("order_paid"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
	if _, err := ParseOutboxAggregateType("reconciliation_run"); err != nil {
		t.Fatalf("expected aggregate to parse: %v", err)
	}
	if !OutboxDLQReasonMaxAttempts.IsValid() || OutboxDLQErrorReason("gave_up").IsValid() {
		t.Fatal("unexpected dlq reason validity")
	}
}
