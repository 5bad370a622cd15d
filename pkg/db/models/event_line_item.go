package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// EventLineItem is one movement of a single equipment type on an event.
type EventLineItem struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	EventID           uuid.UUID               `gorm:"column:event_id;type:uuid;not null;uniqueIndex:event_line_items_event_index_key,priority:1"`
	LineIndex         int                     `gorm:"column:line_index;not null;uniqueIndex:event_line_items_event_index_key,priority:2"`
	TxType            enums.TxType            `gorm:"column:tx_type;type:ledger_tx_type_enum;not null"`
	Direction         enums.MovementDirection `gorm:"column:direction;type:movement_direction_enum;not null"`
	EquipmentID       uuid.UUID               `gorm:"column:equipment_id;type:uuid;not null"`
	EquipmentCategory enums.EquipmentCategory `gorm:"column:equipment_category;type:equipment_category_enum;not null"`
	SourceType        *enums.LocationType     `gorm:"column:source_type;type:location_type_enum"`
	SourceID          *uuid.UUID              `gorm:"column:source_id;type:uuid"`
	DestinationType   *enums.LocationType     `gorm:"column:destination_type;type:location_type_enum"`
	DestinationID     *uuid.UUID              `gorm:"column:destination_id;type:uuid"`
	Quantity          int64                   `gorm:"column:quantity;not null"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (i *EventLineItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
