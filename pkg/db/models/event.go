package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Event is a Distribution or Transaction moving through DRAFT -> CONFIRMED.
type Event struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Kind            enums.EventKind  `gorm:"column:kind;type:event_kind_enum;not null"`
	State           enums.EventState `gorm:"column:state;type:event_state_enum;not null"`
	BusinessNumber  *string          `gorm:"column:business_number;uniqueIndex:events_business_number_key"`
	ClientReference *string          `gorm:"column:client_reference;uniqueIndex:events_client_reference_key"`
	Notes           *string          `gorm:"column:notes"`
	CreatedBy       string           `gorm:"column:created_by;not null"`
	ConfirmedBy     *string          `gorm:"column:confirmed_by"`
	ConfirmedAt     *time.Time       `gorm:"column:confirmed_at"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *Event) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}

// IsConfirmed reports whether the event reached its terminal state.
func (e Event) IsConfirmed() bool {
	return e.State == enums.EventStateConfirmed
}
