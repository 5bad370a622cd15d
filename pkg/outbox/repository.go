package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

const maxErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// Repository owns outbox_events. Every write runs on the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, row models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&row).Error
}

func (r *Repository) Exists(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_type = ? AND aggregate_id = ?", eventType, aggregateType, aggregateID).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

// Claim locks up to limit unpublished rows that still have attempts left.
// Rows locked by another publisher are skipped. SQLite ignores the lock clause.
func (r *Repository) Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.update(tx, id, map[string]any{
		"published_at": at.UTC(),
		"last_error":   nil,
	})
}

// RecordFailure stores err and spends one attempt.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, err error) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(err),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Retire pins attempt_count at ceiling so Claim never returns the row again.
func (r *Repository) Retire(tx *gorm.DB, id uuid.UUID, err error, ceiling int) error {
	return r.update(tx, id, map[string]any{
		"last_error":    clip(err),
		"attempt_count": ceiling,
	})
}

func (r *Repository) update(tx *gorm.DB, id uuid.UUID, values map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(values).Error
}

// Purge deletes rows older than cutoff that are published or out of attempts.
// Rows still eligible for publishing are kept regardless of age.
func (r *Repository) Purge(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	res := conn.WithContext(ctx).
		Where("published_at < ?", cutoff).
		Or("published_at IS NULL AND attempt_count >= ? AND created_at < ?", maxAttempts, cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// Backlog summarizes rows waiting for the publisher.
type Backlog struct {
	Pending    int64      `json:"pending"`
	Retrying   int64      `json:"retrying"`
	Exhausted  int64      `json:"exhausted"`
	OldestAt   *time.Time `json:"oldest_pending_at,omitempty"`
	DeadLetter int64      `json:"dead_lettered"`
}

func (r *Repository) Backlog(ctx context.Context, maxAttempts int) (Backlog, error) {
	var out struct {
		Pending   int64
		Retrying  int64
		Exhausted int64
	}
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select(`COUNT(*) FILTER (WHERE attempt_count < ?) AS pending,
			COUNT(*) FILTER (WHERE attempt_count > 0 AND attempt_count < ?) AS retrying,
			COUNT(*) FILTER (WHERE attempt_count >= ?) AS exhausted`, maxAttempts, maxAttempts, maxAttempts).
		Where("published_at IS NULL").
		Scan(&out).Error
	if err != nil {
		return Backlog{}, err
	}
	backlog := Backlog{Pending: out.Pending, Retrying: out.Retrying, Exhausted: out.Exhausted}

	var oldest models.OutboxEvent
	err = r.db.WithContext(ctx).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Limit(1).
		Find(&oldest).Error
	if err != nil {
		return Backlog{}, err
	}
	if oldest.ID != uuid.Nil {
		at := oldest.CreatedAt.UTC()
		backlog.OldestAt = &at
	}

	err = r.db.WithContext(ctx).Model(&models.OutboxDLQ{}).Count(&backlog.DeadLetter).Error
	return backlog, err
}

func clip(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
