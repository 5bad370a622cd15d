package enums

import "fmt"

// AuditAction maps to the audit_action_enum enum in Postgres.
type AuditAction string

const (
	AuditActionEventCreated            AuditAction = "event_created"
	AuditActionEventLineItemsReplaced  AuditAction = "event_line_items_replaced"
	AuditActionEventConfirmed          AuditAction = "event_confirmed"
	AuditActionReconciliationCorrected AuditAction = "reconciliation_corrected"
)

var validAuditActions = []AuditAction{
	AuditActionEventCreated,
	AuditActionEventLineItemsReplaced,
	AuditActionEventConfirmed,
	AuditActionReconciliationCorrected,
}

func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// AuditEntityType names the table an audit row describes.
type AuditEntityType string

const (
	AuditEntityEvent    AuditEntityType = "event"
	AuditEntitySnapshot AuditEntityType = "inventory_snapshot"
)

var validAuditEntityTypes = []AuditEntityType{
	AuditEntityEvent,
	AuditEntitySnapshot,
}

func (e AuditEntityType) IsValid() bool {
	for _, candidate := range validAuditEntityTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseAuditEntityType converts raw input into AuditEntityType.
func ParseAuditEntityType(value string) (AuditEntityType, error) {
	for _, candidate := range validAuditEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit entity type %q", value)
}
