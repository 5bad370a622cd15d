package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/pkg/enums"
)

// SchemaVersion is written into every new envelope.
const SchemaVersion = 1

// Envelope is the document stored in outbox_events.payload and published as
// the message body. EventID is the outbox row ID, so redeliveries of a row
// always carry the same identity.
type Envelope struct {
	EventID       uuid.UUID                 `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   uuid.UUID                 `json:"aggregate_id"`
	SchemaVersion int                       `json:"schema_version"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Actor         string                    `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}

// DecodeEnvelope parses raw and rejects envelopes missing the fields
// consumers key on.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.EventID == uuid.Nil:
		return Envelope{}, errors.New("envelope missing event_id")
	case !env.EventType.IsValid():
		return Envelope{}, fmt.Errorf("envelope has invalid event_type %q", env.EventType)
	case !env.AggregateType.IsValid():
		return Envelope{}, fmt.Errorf("envelope has invalid aggregate_type %q", env.AggregateType)
	case env.AggregateID == uuid.Nil:
		return Envelope{}, errors.New("envelope missing aggregate_id")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, fmt.Errorf("envelope %s has no data", env.EventID)
	}
	return env, nil
}

// Attributes are attached to the published message so subscriptions can
// filter without decoding the body.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		"event_id":       e.EventID.String(),
		"event_type":     string(e.EventType),
		"aggregate_type": string(e.AggregateType),
		"aggregate_id":   e.AggregateID.String(),
		"occurred_at":    e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
