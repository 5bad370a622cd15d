package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// InventorySnapshot caches SUM(ledger_entries.quantity_delta) for one pair.
type InventorySnapshot struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	LocationType enums.LocationType `gorm:"column:location_type;type:location_type_enum;not null;uniqueIndex:inventory_snapshots_pair_key,priority:1"`
	LocationID   uuid.UUID          `gorm:"column:location_id;type:uuid;not null;uniqueIndex:inventory_snapshots_pair_key,priority:2"`
	EquipmentID  uuid.UUID          `gorm:"column:equipment_id;type:uuid;not null;uniqueIndex:inventory_snapshots_pair_key,priority:3"`
	Quantity     int64              `gorm:"column:quantity;not null;default:0"`
	LastUpdated  time.Time          `gorm:"column:last_updated;not null"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (s *InventorySnapshot) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	if s.LastUpdated.IsZero() {
		s.LastUpdated = time.Now().UTC()
	}
	return nil
}
