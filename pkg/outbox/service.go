package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

// Event is a domain fact to publish once the surrounding transaction commits.
type Event struct {
	Type          enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         string
	Data          any
	OccurredAt    time.Time
}

// Service writes outbox rows inside the caller's transaction.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit queues ev on tx. Nothing is queued if tx rolls back.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		return errTxRequired
	}
	row, env, err := s.build(ev)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return fmt.Errorf("queue %s: %w", ev.Type, err)
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID.String(),
			"event_type":     env.EventType,
			"aggregate_type": env.AggregateType,
			"aggregate_id":   env.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

// EmitOnce queues ev unless the aggregate already has an event of the same type.
func (s *Service) EmitOnce(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		return errTxRequired
	}
	exists, err := s.repo.Exists(tx.WithContext(ctx), ev.Type, ev.AggregateType, ev.AggregateID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Emit(ctx, tx, ev)
}

func (s *Service) build(ev Event) (models.OutboxEvent, Envelope, error) {
	switch {
	case !ev.Type.IsValid():
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("invalid outbox event type %q", ev.Type)
	case !ev.AggregateType.IsValid():
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("invalid outbox aggregate type %q", ev.AggregateType)
	case ev.AggregateID == uuid.Nil:
		return models.OutboxEvent{}, Envelope{}, errors.New("outbox aggregate id is required")
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("encode %s data: %w", ev.Type, err)
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	env := Envelope{
		EventID:       uuid.New(),
		EventType:     ev.Type,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		SchemaVersion: SchemaVersion,
		OccurredAt:    occurred.UTC(),
		Actor:         ev.Actor,
		Data:          data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            env.EventID,
		EventType:     env.EventType,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Payload:       payload,
	}, env, nil
}
