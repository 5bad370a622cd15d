package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Recorder appends audit events. Writers pass their open transaction so the
// audit row commits or rolls back with the change it describes.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEvent, error)
	List(ctx context.Context, filter Filter) ([]models.AuditEvent, error)
}

// Entry is one state change. Before and After are marshalled to JSON; nil
// is stored as SQL NULL.
type Entry struct {
	Actor      string
	Action     enums.AuditAction
	EntityType enums.AuditEntityType
	EntityID   uuid.UUID
	Before     any
	After      any
}

type service struct {
	repo Repository
}

// NewService wires an audit recorder with the provided repository.
func NewService(repo Repository) (Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditEvent, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if entry.Actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	if !entry.Action.IsValid() {
		return nil, fmt.Errorf("invalid audit action %q", entry.Action)
	}
	if !entry.EntityType.IsValid() {
		return nil, fmt.Errorf("invalid audit entity type %q", entry.EntityType)
	}
	if entry.EntityID == uuid.Nil {
		return nil, fmt.Errorf("entity id is required")
	}

	before, err := marshalState(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("marshal before state: %w", err)
	}
	after, err := marshalState(entry.After)
	if err != nil {
		return nil, fmt.Errorf("marshal after state: %w", err)
	}

	event := &models.AuditEvent{
		Actor:       entry.Actor,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		BeforeState: before,
		AfterState:  after,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.AuditEvent, error) {
	if filter.EntityType != nil && !filter.EntityType.IsValid() {
		return nil, fmt.Errorf("invalid audit entity type %q", *filter.EntityType)
	}
	return s.repo.List(ctx, filter)
}

func marshalState(state any) (json.RawMessage, error) {
	if state == nil {
		return nil, nil
	}
	if raw, ok := state.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(state)
}
