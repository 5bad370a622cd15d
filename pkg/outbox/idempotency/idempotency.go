package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/pkg/redis"
)

// Claim is the outcome of asking to handle an event.
type Claim int

const (
	// Claimed means the caller now owns the event and must Complete or Release it.
	Claimed Claim = iota
	// InFlight means another worker holds an unexpired lease on the event.
	InFlight
	// Done means the event was handled before.
	Done
)

func (c Claim) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager tracks per-consumer event handling in two steps. A claim takes a
// short lease; Complete replaces it with a long-lived done marker. A worker
// that dies mid-handle loses its lease and the redelivery is handled again.
// Keys follow `refill:idempotency:evt:<consumer>:<event_id>`.
type Manager struct {
	store store
	lease time.Duration
	ttl   time.Duration
}

// NewManager builds a Manager. lease bounds how long a claim survives without
// Complete; ttl is how long a done marker is remembered.
func NewManager(s store, lease, ttl time.Duration) (*Manager, error) {
	switch {
	case s == nil:
		return nil, errors.New("idempotency store is required")
	case lease <= 0:
		return nil, errors.New("lease must be positive")
	case ttl < lease:
		return nil, errors.New("ttl must be at least the lease")
	}
	return &Manager{store: s, lease: lease, ttl: ttl}, nil
}

func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error) {
	key, err := eventKey(m.store, consumer, eventID)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, stateProcessing, m.lease)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}
	state, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.ErrNil):
		// lease expired between the two calls; let the redelivery retry
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read %s: %w", key, err)
	case state == stateDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete marks the event handled for ttl.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := eventKey(m.store, consumer, eventID)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, key, stateDone, m.ttl); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release drops a claim so the next delivery is handled again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := eventKey(m.store, consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func eventKey(s store, consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return s.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
