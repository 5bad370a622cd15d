package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/numbering"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/config"
	dbpkg "github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/outbox"
)

func testRuntime(t *testing.T) (*runtime, opener) {
	t.Helper()
	client, err := dbpkg.OpenSQLite("file:refillctl_" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, client.DB().AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{}
	cfg.Reconciliation.Actor = "system:reconciliation"
	cfg.Reconciliation.Timezone = "UTC"
	rt := &runtime{
		cfg:   cfg,
		logg:  logger.New(logger.Options{ServiceName: "refillctl-test", Output: io.Discard}),
		db:    client,
		close: func() {},
	}
	return rt, func(context.Context) (*runtime, error) { return rt, nil }
}

func execute(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedPair(t *testing.T, rt *runtime, qty int64) stock.Pair {
	t.Helper()
	pair := stock.Pair{Location: stock.Depot(uuid.New()), EquipmentID: uuid.New()}
	err := rt.db.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := stock.NewPoster().Post(context.Background(), tx, stock.PostInput{
			Actor:     "seeder",
			Reference: stock.Reference{Type: enums.LedgerReferenceDistribution, ID: uuid.NewString()},
			Postings: []stock.Posting{{
				Pair:           pair,
				TxType:         enums.TxTypeManualAdjustment,
				Delta:          qty,
				IdempotencyKey: "seed:" + uuid.NewString(),
			}},
		})
		return err
	})
	require.NoError(t, err)
	return pair
}

func TestVerifyThenReconcileThenVerify(t *testing.T) {
	rt, open := testRuntime(t)
	pair := seedPair(t, rt, 38)

	out, err := execute(t, open, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "1 pairs checked, 0 drifted")

	require.NoError(t, rt.db.DB().Model(&models.InventorySnapshot{}).
		Where("location_id = ?", pair.Location.ID).
		Update("quantity", 36).Error)

	out, err = execute(t, open, "verify")
	require.Error(t, err)
	assert.Contains(t, out, "drift")

	out, err = execute(t, open, "reconcile", "--date", "2026-10-19")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_date": "2026-10-19"`)
	assert.Contains(t, out, `"corrections_applied": 1`)

	out, err = execute(t, open, "verify", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "excluding RECONCILIATION_ADJUSTMENT")
	// ledger holds 38 of movements plus a +2 correction; the snapshot matches the movements
	assert.Regexp(t, `\s38\s+38\s+2\s+ok`, out)
}

func TestReconcileRejectsBadDate(t *testing.T) {
	_, open := testRuntime(t)
	_, err := execute(t, open, "reconcile", "--date", "19/10/2026")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestResolveRunDateUsesConfiguredZone(t *testing.T) {
	zone := func() (*time.Location, error) { return time.FixedZone("UTC+3", 3*60*60), nil }
	now := func() time.Time { return time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC) }
	got, err := resolveRunDate("", zone, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), got)
}

func TestNumberShowsLastIssued(t *testing.T) {
	rt, open := testRuntime(t)

	out, err := execute(t, open, "number", "--prefix", "DIST")
	require.NoError(t, err)
	assert.Contains(t, out, "no numbers issued")

	svc := numbering.NewService(numbering.WithClock(func() time.Time {
		return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	}))
	for i := 0; i < 2; i++ {
		require.NoError(t, rt.db.WithTx(context.Background(), func(tx *gorm.DB) error {
			_, err := svc.Generate(context.Background(), tx, "DIST", true)
			return err
		}))
	}

	out, err = execute(t, open, "number", "--prefix", "DIST")
	require.NoError(t, err)
	assert.Equal(t, "DIST-20261019-000002", strings.TrimSpace(out))

	_, err = execute(t, open, "number")
	require.Error(t, err)
}

func TestMigrateOfflineCommands(t *testing.T) {
	failOpen := func(context.Context) (*runtime, error) {
		t.Fatal("offline migrate commands must not open the database")
		return nil, nil
	}

	out, err := execute(t, failOpen, "migrate", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations valid")

	dir := t.TempDir()
	out, err = execute(t, failOpen, "migrate", "create", "add depot index", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "_add_depot_index.sql")
}

func TestMigrateUpOnSQLiteUsesModels(t *testing.T) {
	rt, open := testRuntime(t)
	rt.cfg.DB.Driver = config.DBDriverSQLite

	out, err := execute(t, open, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema migrated")

	_, err = execute(t, open, "migrate", "down")
	require.Error(t, err)
}

func TestOutboxStatusAndRequeue(t *testing.T) {
	rt, open := testRuntime(t)
	rt.cfg.Outbox.MaxAttempts = 3
	ctx := context.Background()

	row := models.OutboxEvent{
		EventType:     enums.EventReconciliationCompleted,
		AggregateType: enums.AggregateReconciliationRun,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"data":{}}`),
		AttemptCount:  3,
	}
	err := rt.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		entry := outbox.DeadLetter(row, enums.OutboxDLQReasonMaxAttempts, errors.New("topic missing"), time.Now())
		return outbox.NewDLQRepository(rt.db.DB()).Insert(tx, entry)
	})
	require.NoError(t, err)

	out, err := execute(t, open, "outbox", "status", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"pending": 0`)
	assert.Contains(t, out, `"exhausted": 1`)
	assert.Contains(t, out, `"dead_lettered": 1`)

	out, err = execute(t, open, "outbox", "dlq", "list")
	require.NoError(t, err)
	assert.Contains(t, out, row.ID.String())
	assert.Contains(t, out, "max_attempts")

	out, err = execute(t, open, "outbox", "dlq", "show", row.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "topic missing")

	out, err = execute(t, open, "outbox", "dlq", "requeue", row.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "requeued")

	out, err = execute(t, open, "outbox", "status")
	require.NoError(t, err)
	assert.Regexp(t, `pending\s+1`, out)
	assert.Regexp(t, `dead-lettered\s+0`, out)

	_, err = execute(t, open, "outbox", "dlq", "requeue", row.ID.String())
	assert.ErrorIs(t, err, outbox.ErrNotDeadLettered)

	_, err = execute(t, open, "outbox", "dlq", "show", uuid.NewString())
	assert.ErrorIs(t, err, outbox.ErrNotDeadLettered)

	_, err = execute(t, open, "outbox", "dlq", "show", "not-a-uuid")
	assert.Error(t, err)
}
