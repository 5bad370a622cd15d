package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// AuditEvent is written in the same transaction as the mutation it documents.
type AuditEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Actor       string                `gorm:"column:actor;not null"`
	Action      enums.AuditAction     `gorm:"column:action;type:audit_action_enum;not null"`
	EntityType  enums.AuditEntityType `gorm:"column:entity_type;type:audit_entity_type_enum;not null;index:audit_events_entity_idx,priority:1"`
	EntityID    uuid.UUID             `gorm:"column:entity_id;type:uuid;not null;index:audit_events_entity_idx,priority:2"`
	BeforeState json.RawMessage       `gorm:"column:before_state;type:jsonb"`
	AfterState  json.RawMessage       `gorm:"column:after_state;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (a *AuditEvent) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
