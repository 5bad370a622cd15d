package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateInventoryEvent    OutboxAggregateType = "inventory_event"
	AggregateInventorySnapshot OutboxAggregateType = "inventory_snapshot"
	AggregateReconciliationRun OutboxAggregateType = "reconciliation_run"
)

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventInventoryEventConfirmed OutboxEventType = "inventory_event_confirmed"
	EventInventoryDriftCorrected OutboxEventType = "inventory_drift_corrected"
	EventReconciliationCompleted OutboxEventType = "reconciliation_completed"
)

// OutboxDLQErrorReason records why a row left the outbox without being published.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var (
	validAggregateTypes   = []OutboxAggregateType{AggregateInventoryEvent, AggregateInventorySnapshot, AggregateReconciliationRun}
	validOutboxEventTypes = []OutboxEventType{EventInventoryEventConfirmed, EventInventoryDriftCorrected, EventReconciliationCompleted}
	validDLQReasons       = []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}
)

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(validAggregateTypes, a) }
func (e OutboxEventType) IsValid() bool { return slices.Contains(validOutboxEventTypes, e) }
func (r OutboxDLQErrorReason) IsValid() bool { return slices.Contains(validDLQReasons, r) }

// ParseOutboxAggregateType converts a message attribute into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// ParseOutboxEventType converts a message attribute into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
