package driftwatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/idempotency"
)

type stubReceiver struct{}

func (stubReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

type stubIdempotency struct {
	state    map[uuid.UUID]idempotency.Claim
	released []uuid.UUID
	err      error
}

func newStubIdempotency() *stubIdempotency {
	return &stubIdempotency{state: map[uuid.UUID]idempotency.Claim{}}
}

func (s *stubIdempotency) Claim(_ context.Context, _ string, id uuid.UUID) (idempotency.Claim, error) {
	if s.err != nil {
		return idempotency.InFlight, s.err
	}
	if prev, ok := s.state[id]; ok {
		return prev, nil
	}
	s.state[id] = idempotency.InFlight
	return idempotency.Claimed, nil
}

func (s *stubIdempotency) Complete(_ context.Context, _ string, id uuid.UUID) error {
	s.state[id] = idempotency.Done
	return nil
}

func (s *stubIdempotency) Release(_ context.Context, _ string, id uuid.UUID) error {
	delete(s.state, id)
	s.released = append(s.released, id)
	return nil
}

type stubHandler struct {
	handled []outbox.Envelope
	err     error
}

func (h *stubHandler) Accepts(eventType enums.OutboxEventType) bool {
	return eventType == enums.EventInventoryDriftCorrected
}

func (h *stubHandler) Handle(_ context.Context, env outbox.Envelope) error {
	if h.err != nil {
		return h.err
	}
	h.handled = append(h.handled, env)
	return nil
}

func newTestService(t *testing.T, handler Handler, idem idempotencyChecker) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Subscription: stubReceiver{},
		Handler:      handler,
		Idempotency:  idem,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return svc
}

func inventoryEnvelope(eventID uuid.UUID, eventType enums.OutboxEventType) outbox.Envelope {
	return outbox.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: enums.AggregateInventorySnapshot,
		AggregateID:   uuid.New(),
		SchemaVersion: outbox.SchemaVersion,
		OccurredAt:    time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC),
		Data:          json.RawMessage(`{"delta":-1}`),
	}
}

func inventoryMessage(t *testing.T, eventID uuid.UUID, eventType enums.OutboxEventType) *gcppubsub.Message {
	t.Helper()
	env := inventoryEnvelope(eventID, eventType)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: env.Attributes()}
}

func TestProcessHandlesOnceAndAcksDuplicates(t *testing.T) {
	handler := &stubHandler{}
	idem := newStubIdempotency()
	svc := newTestService(t, handler, idem)

	id := uuid.New()
	msg := inventoryMessage(t, id, enums.EventInventoryDriftCorrected)

	res := svc.process(context.Background(), msg)
	assert.False(t, res.nack)
	assert.Equal(t, "handled", res.result)

	res = svc.process(context.Background(), msg)
	assert.False(t, res.nack)
	assert.Equal(t, "duplicate", res.result)

	require.Len(t, handler.handled, 1)
	assert.Equal(t, id, handler.handled[0].EventID)
	assert.JSONEq(t, `{"delta":-1}`, string(handler.handled[0].Data))
}

func TestProcessNacksAndReleasesOnHandlerError(t *testing.T) {
	handler := &stubHandler{err: errors.New("bigquery unavailable")}
	idem := newStubIdempotency()
	svc := newTestService(t, handler, idem)

	id := uuid.New()
	res := svc.process(context.Background(), inventoryMessage(t, id, enums.EventInventoryDriftCorrected))
	assert.True(t, res.nack)
	assert.Equal(t, []uuid.UUID{id}, idem.released)
	assert.NotContains(t, idem.state, id)
}

func TestProcessNacksWhileAnotherWorkerHoldsTheClaim(t *testing.T) {
	handler := &stubHandler{}
	idem := newStubIdempotency()
	svc := newTestService(t, handler, idem)

	id := uuid.New()
	idem.state[id] = idempotency.InFlight
	res := svc.process(context.Background(), inventoryMessage(t, id, enums.EventInventoryDriftCorrected))
	assert.True(t, res.nack)
	assert.Equal(t, "in_flight", res.result)
	assert.Empty(t, handler.handled)
}

func TestProcessNacksWhenIdempotencyStoreFails(t *testing.T) {
	svc := newTestService(t, &stubHandler{}, &stubIdempotency{state: map[uuid.UUID]idempotency.Claim{}, err: errors.New("redis down")})
	res := svc.process(context.Background(), inventoryMessage(t, uuid.New(), enums.EventInventoryDriftCorrected))
	assert.True(t, res.nack)
}

func TestProcessAcksIgnoredAndInvalidMessages(t *testing.T) {
	handler := &stubHandler{}
	svc := newTestService(t, handler, newStubIdempotency())

	res := svc.process(context.Background(), inventoryMessage(t, uuid.New(), enums.EventInventoryEventConfirmed))
	assert.False(t, res.nack)
	assert.Equal(t, "ignored", res.result)

	bad := inventoryMessage(t, uuid.New(), enums.EventInventoryDriftCorrected)
	bad.Attributes["event_type"] = "order_paid"
	res = svc.process(context.Background(), bad)
	assert.False(t, res.nack)
	assert.Equal(t, "invalid", res.result)

	assert.Empty(t, handler.handled)
}

func TestDecodeMessage(t *testing.T) {
	id := uuid.New()
	env := inventoryEnvelope(id, enums.EventInventoryDriftCorrected)
	body, err := json.Marshal(env)
	require.NoError(t, err)

	t.Run("without attributes", func(t *testing.T) {
		got, err := DecodeMessage(body, nil)
		require.NoError(t, err)
		assert.Equal(t, id, got.EventID)
		assert.Equal(t, env.AggregateID, got.AggregateID)
		assert.True(t, got.OccurredAt.Equal(env.OccurredAt))
	})

	t.Run("conflicting attribute", func(t *testing.T) {
		attrs := env.Attributes()
		attrs["event_id"] = uuid.NewString()
		_, err := DecodeMessage(body, attrs)
		assert.ErrorContains(t, err, "event_id")
	})

	t.Run("malformed body", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`not json`), nil)
		assert.Error(t, err)
		_, err = DecodeMessage([]byte(`{"event_id":"nope"}`), nil)
		assert.Error(t, err)
	})
}
