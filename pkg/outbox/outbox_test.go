package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	client, err := dbpkg.OpenSQLite("file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, client.DB().AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}))
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

func confirmedEvent(aggregateID uuid.UUID) Event {
	return Event{
		Type:          enums.EventInventoryEventConfirmed,
		AggregateType: enums.AggregateInventoryEvent,
		AggregateID:   aggregateID,
		Actor:         "user-7",
		Data:          map[string]int{"line_item_count": 2},
	}
}

func TestEmitStoresEnvelopeKeyedByRowID(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.FixedZone("x", 3600)) }
	aggregateID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, confirmedEvent(aggregateID))
	}))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	env, err := DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, row.ID, env.EventID)
	assert.Equal(t, aggregateID, env.AggregateID)
	assert.Equal(t, "user-7", env.Actor)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC), env.OccurredAt)
	assert.JSONEq(t, `{"line_item_count":2}`, string(env.Data))
	assert.False(t, row.Published())

	attrs := env.Attributes()
	assert.Equal(t, row.ID.String(), attrs["event_id"])
	assert.Equal(t, string(enums.EventInventoryEventConfirmed), attrs["event_type"])
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	boom := errors.New("confirm failed")
	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, confirmedEvent(uuid.New())))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidatesEvent(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)

	require.Error(t, svc.Emit(context.Background(), nil, confirmedEvent(uuid.New())))

	bad := confirmedEvent(uuid.New())
	bad.Type = "unknown"
	require.Error(t, svc.Emit(context.Background(), db, bad))

	bad = confirmedEvent(uuid.Nil)
	require.Error(t, svc.Emit(context.Background(), db, bad))
}

func TestEmitOnceSkipsExistingAggregateEvent(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	aggregateID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitOnce(context.Background(), tx, confirmedEvent(aggregateID))
		}))
	}

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRepositoryClaimFailureAndRetire(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), db, confirmedEvent(uuid.New())))
	}

	rows, err := repo.Claim(db, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublished(db, rows[0].ID, time.Now()))
	require.NoError(t, repo.RecordFailure(db, rows[1].ID, errors.New("unavailable")))
	require.NoError(t, repo.Retire(db, rows[2].ID, errors.New("bad payload"), 2))

	rows, err = repo.Claim(db, 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "unavailable", *rows[0].LastError)

	backlog, err := repo.Backlog(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), backlog.Pending)
	assert.Equal(t, int64(1), backlog.Retrying)
	assert.Equal(t, int64(1), backlog.Exhausted)
	assert.NotNil(t, backlog.OldestAt)
}

func TestRepositoryPurgeKeepsPublishableRows(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	old := time.Now().UTC().AddDate(0, 0, -40)
	cutoff := time.Now().UTC().AddDate(0, 0, -30)

	published := old
	rows := []models.OutboxEvent{
		{EventType: enums.EventInventoryEventConfirmed, AggregateType: enums.AggregateInventoryEvent, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, PublishedAt: &published},
		{EventType: enums.EventInventoryEventConfirmed, AggregateType: enums.AggregateInventoryEvent, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 5},
		{EventType: enums.EventInventoryEventConfirmed, AggregateType: enums.AggregateInventoryEvent, AggregateID: uuid.New(), Payload: []byte(`{}`), CreatedAt: old, AttemptCount: 1},
		{EventType: enums.EventInventoryEventConfirmed, AggregateType: enums.AggregateInventoryEvent, AggregateID: uuid.New(), Payload: []byte(`{}`)},
	}
	require.NoError(t, db.Create(&rows).Error)

	deleted, err := repo.Purge(context.Background(), nil, cutoff, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var left []models.OutboxEvent
	require.NoError(t, db.Order("created_at ASC").Find(&left).Error)
	require.Len(t, left, 2)
	assert.Equal(t, 1, left[0].AttemptCount)
}

func TestDLQInsertListAndRequeue(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)
	svc := NewService(repo, nil)
	require.NoError(t, svc.Emit(context.Background(), db, confirmedEvent(uuid.New())))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	require.NoError(t, repo.Retire(db, row.ID, errors.New("bad"), 10))

	entry := DeadLetter(row, enums.OutboxDLQReasonNonRetryable, errors.New("bad"), time.Now())
	require.NoError(t, dlq.Insert(db, entry))
	require.NoError(t, dlq.Insert(db, entry), "second insert for the same event must be a no-op")

	listed, err := dlq.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, row.ID, listed[0].EventID)
	require.NotNil(t, listed[0].ErrorMessage)
	assert.Equal(t, "bad", *listed[0].ErrorMessage)

	require.NoError(t, dlq.Requeue(context.Background(), row.ID))
	got, err := dlq.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	claimed, err := repo.Claim(db, 10, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Zero(t, claimed[0].AttemptCount)

	assert.ErrorIs(t, dlq.Requeue(context.Background(), row.ID), ErrNotDeadLettered)
}
