package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectrefill/refill-backend/internal/repo"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

// Repository persists events and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.Event, items []models.EventLineItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error)
	FindByClientReference(ctx context.Context, reference string) (*models.Event, error)
	ListLineItems(ctx context.Context, eventID uuid.UUID) ([]models.EventLineItem, error)
	ReplaceLineItems(ctx context.Context, eventID uuid.UUID, items []models.EventLineItem) error
	AssignBusinessNumber(ctx context.Context, id uuid.UUID, number string) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, actor string, at time.Time) error
	List(ctx context.Context, filter ListFilter) ([]models.Event, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns an events repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, event *models.Event, items []models.EventLineItem) error {
	db := r.DB(ctx)
	if err := db.Create(event).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].EventID = event.ID
	}
	return db.Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.DB(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindByClientReference(ctx context.Context, reference string) (*models.Event, error) {
	var event models.Event
	err := r.DB(ctx).Where("client_reference = ?", reference).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListLineItems(ctx context.Context, eventID uuid.UUID) ([]models.EventLineItem, error) {
	var items []models.EventLineItem
	if err := r.DB(ctx).
		Where("event_id = ?", eventID).
		Order("line_index ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ReplaceLineItems(ctx context.Context, eventID uuid.UUID, items []models.EventLineItem) error {
	db := r.DB(ctx)
	if err := db.Where("event_id = ?", eventID).Delete(&models.EventLineItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].EventID = eventID
	}
	if err := db.Create(&items).Error; err != nil {
		return err
	}
	return db.Model(&models.Event{}).Where("id = ?", eventID).Update("updated_at", time.Now().UTC()).Error
}

func (r *repository) AssignBusinessNumber(ctx context.Context, id uuid.UUID, number string) error {
	return r.DB(ctx).
		Model(&models.Event{}).
		Where("id = ? AND business_number IS NULL", id).
		Update("business_number", number).Error
}

func (r *repository) MarkConfirmed(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	res := r.DB(ctx).
		Model(&models.Event{}).
		Where("id = ? AND state = ?", id, enums.EventStateDraft).
		Updates(map[string]any{
			"state":        enums.EventStateConfirmed,
			"confirmed_by": actor,
			"confirmed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListFilter narrows event listings.
type ListFilter struct {
	Kind  *enums.EventKind
	State *enums.EventState
	Limit int
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.Event, error) {
	query := r.DB(ctx).Model(&models.Event{})
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.State != nil {
		query = query.Where("state = ?", *filter.State)
	}
	var rows []models.Event
	err := query.Order("created_at DESC").Order("id DESC").Limit(listLimits.Clamp(filter.Limit)).Find(&rows).Error
	return rows, err
}

var listLimits = repo.Limits{Default: 50, Max: 200}
