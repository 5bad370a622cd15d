package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/repo"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Repository manages persistence for audit events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, filter Filter) ([]models.AuditEvent, error)
}

// Filter narrows audit listings. Zero values match everything.
type Filter struct {
	EntityType *enums.AuditEntityType
	EntityID   *uuid.UUID
	Action     *enums.AuditAction
	Limit      int
}

type repository struct {
	repo.Base
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, event *models.AuditEvent) error {
	return r.DB(ctx).Create(event).Error
}

func (r *repository) List(ctx context.Context, filter Filter) ([]models.AuditEvent, error) {
	query := r.DB(ctx).Model(&models.AuditEvent{})
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.Action != nil {
		query = query.Where("action = ?", *filter.Action)
	}

	var events []models.AuditEvent
	if err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(listLimits.Clamp(filter.Limit)).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

var listLimits = repo.Limits{Default: 500, Max: 500}
