package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/projectrefill/refill-backend/pkg/config"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/payloads"
)

// Descriptor binds an event type to its aggregate, topic and payload schema.
type Descriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// Resolved is an outbox row after its envelope and payload were decoded.
type Resolved struct {
	Descriptor Descriptor
	Envelope   outbox.Envelope
	Payload    any
}

// PermanentError marks a row that can never be published as stored.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Registry resolves outbox rows for the publisher.
type Registry struct {
	byType map[enums.OutboxEventType]Descriptor
}

// New registers every inventory event on the configured inventory topic.
func New(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.InventoryTopic == "" {
		return nil, errors.New("inventory topic is required")
	}
	r := &Registry{byType: make(map[enums.OutboxEventType]Descriptor)}
	r.add(enums.EventInventoryEventConfirmed, enums.AggregateInventoryEvent, cfg.InventoryTopic,
		func() any { return &payloads.InventoryEventConfirmed{} })
	r.add(enums.EventInventoryDriftCorrected, enums.AggregateInventorySnapshot, cfg.InventoryTopic,
		func() any { return &payloads.InventoryDriftCorrected{} })
	r.add(enums.EventReconciliationCompleted, enums.AggregateReconciliationRun, cfg.InventoryTopic,
		func() any { return &payloads.ReconciliationCompleted{} })
	return r, nil
}

func (r *Registry) add(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, newPayload func() any) {
	r.byType[eventType] = Descriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    newPayload,
	}
}

// Resolve checks that the row, its envelope and its payload agree. Every
// error it returns is permanent.
func (r *Registry) Resolve(row models.OutboxEvent) (*Resolved, error) {
	desc, ok := r.byType[row.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("no descriptor for event type %q", row.EventType))
	}
	if desc.AggregateType != row.AggregateType {
		return nil, Permanent(fmt.Errorf("%s belongs to %s aggregates, row has %s", row.EventType, desc.AggregateType, row.AggregateType))
	}

	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	if env.EventID != row.ID || env.EventType != row.EventType || env.AggregateID != row.AggregateID {
		return nil, Permanent(fmt.Errorf("envelope %s does not match outbox row %s", env.EventID, row.ID))
	}

	payload := desc.newPayload()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s data: %w", row.EventType, err))
	}
	return &Resolved{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
