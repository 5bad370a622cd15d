package enums

import "fmt"

// EventKind maps to the event_kind_enum enum in Postgres.
type EventKind string

const (
	// EventKindDistribution covers internal depot and truck movements.
	EventKindDistribution EventKind = "distribution"
	// EventKindTransaction covers customer facing deliveries and collections.
	EventKindTransaction EventKind = "transaction"
)

var validEventKinds = []EventKind{
	EventKindDistribution,
	EventKindTransaction,
}

// IsValid reports whether the value matches the canonical event kind enum.
func (k EventKind) IsValid() bool {
	for _, candidate := range validEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// AllowsTxType reports whether a line item of type t may appear on an event of this kind.
// Reconciliation adjustments are reserved to the reconciliation engine.
func (k EventKind) AllowsTxType(t TxType) bool {
	switch k {
	case EventKindDistribution:
		switch t {
		case TxTypeTransfer, TxTypeLoad, TxTypeUnload, TxTypeManualAdjustment:
			return true
		}
	case EventKindTransaction:
		switch t {
		case TxTypeDelivery, TxTypeCollection, TxTypeReturn:
			return true
		}
	}
	return false
}

// ParseEventKind converts raw input into EventKind.
func ParseEventKind(value string) (EventKind, error) {
	for _, candidate := range validEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", value)
}

// EventState maps to the event_state_enum enum in Postgres.
type EventState string

const (
	EventStateDraft     EventState = "draft"
	EventStateConfirmed EventState = "confirmed"
)

var validEventStates = []EventState{
	EventStateDraft,
	EventStateConfirmed,
}

// IsValid reports whether the value matches the canonical event state enum.
func (s EventState) IsValid() bool {
	for _, candidate := range validEventStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseEventState converts raw input into EventState.
func ParseEventState(value string) (EventState, error) {
	for _, candidate := range validEventStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event state %q", value)
}
