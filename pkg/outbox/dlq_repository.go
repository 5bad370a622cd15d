package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

// ErrNotDeadLettered is returned by Requeue when the event has no DLQ row.
var ErrNotDeadLettered = errors.New("event is not dead-lettered")

const (
	defaultDLQListLimit = 50
	maxDLQListLimit     = 500
)

// DLQRepository owns outbox_dlq, the rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DeadLetter builds the DLQ row for an outbox row that will not be retried.
func DeadLetter(row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) models.OutboxDLQ {
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		AttemptCount:  row.AttemptCount,
		FailedAt:      at.UTC(),
	}
	if cause != nil {
		msg := clip(cause)
		entry.ErrorMessage = &msg
	}
	return entry
}

// Insert is a no-op when the event already has a DLQ row.
func (r *DLQRepository) Insert(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Where(models.OutboxDLQ{EventID: entry.EventID}).FirstOrCreate(&entry).Error
}

// Get returns nil when the event is not dead-lettered.
func (r *DLQRepository) Get(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the newest failures first.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	switch {
	case limit <= 0:
		limit = defaultDLQListLimit
	case limit > maxDLQListLimit:
		limit = maxDLQListLimit
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue drops the DLQ row and gives the outbox row a fresh set of attempts.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotDeadLettered
		}
		return tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil}).Error
	})
}
