package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Movement is the net snapshot change of one pair.
type Movement struct {
	LocationType enums.LocationType `json:"location_type"`
	LocationID   uuid.UUID          `json:"location_id"`
	EquipmentID  uuid.UUID          `json:"equipment_id"`
	Before       int64              `json:"before"`
	After        int64              `json:"after"`
}

// InventoryEventConfirmed is emitted once when a distribution or transaction posts to the ledger.
type InventoryEventConfirmed struct {
	EventID        uuid.UUID       `json:"event_id"`
	Kind           enums.EventKind `json:"kind"`
	BusinessNumber string          `json:"business_number"`
	ConfirmedBy    string          `json:"confirmed_by"`
	ConfirmedAt    time.Time       `json:"confirmed_at"`
	LineItemCount  int             `json:"line_item_count"`
	Movements      []Movement      `json:"movements"`
}

// InventoryDriftCorrected reports one snapshot moved back onto its ledger sum.
type InventoryDriftCorrected struct {
	SnapshotID     uuid.UUID          `json:"snapshot_id"`
	RunDate        string             `json:"run_date"`
	LocationType   enums.LocationType `json:"location_type"`
	LocationID     uuid.UUID          `json:"location_id"`
	EquipmentID    uuid.UUID          `json:"equipment_id"`
	SnapshotBefore int64              `json:"snapshot_before"`
	LedgerSum      int64              `json:"ledger_sum"`
	Delta          int64              `json:"delta"`
	IdempotencyKey string             `json:"idempotency_key"`
}

// ReconciliationCompleted summarises one reconciliation run.
type ReconciliationCompleted struct {
	ReportID           uuid.UUID `json:"report_id"`
	RunDate            string    `json:"run_date"`
	ExecutedBy         string    `json:"executed_by"`
	PairsScanned       int       `json:"pairs_scanned"`
	MismatchesFound    int       `json:"mismatches_found"`
	CorrectionsApplied int       `json:"corrections_applied"`
	FailedPairs        int       `json:"failed_pairs"`
}
