package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// LedgerEntry is an immutable signed movement of one equipment type at one location.
type LedgerEntry struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	TxType         enums.TxType              `gorm:"column:tx_type;type:ledger_tx_type_enum;not null"`
	LocationType   enums.LocationType        `gorm:"column:location_type;type:location_type_enum;not null;index:ledger_entries_pair_idx,priority:1"`
	LocationID     uuid.UUID                 `gorm:"column:location_id;type:uuid;not null;index:ledger_entries_pair_idx,priority:2"`
	EquipmentID    uuid.UUID                 `gorm:"column:equipment_id;type:uuid;not null;index:ledger_entries_pair_idx,priority:3"`
	QuantityDelta  int64                     `gorm:"column:quantity_delta;not null"`
	ReferenceType  enums.LedgerReferenceType `gorm:"column:reference_type;type:ledger_reference_type_enum;not null"`
	ReferenceID    string                    `gorm:"column:reference_id;type:text;not null"`
	IdempotencyKey string                    `gorm:"column:idempotency_key;type:text;not null;uniqueIndex:ledger_entries_idempotency_key_key"`
	CreatedBy      string                    `gorm:"column:created_by;not null"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
