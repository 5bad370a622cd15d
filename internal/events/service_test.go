package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/numbering"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/config"
	dbpkg "github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type harness struct {
	client *dbpkg.Client
	svc    Service
	stock  *stock.Repository
	audit  audit.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, err := dbpkg.OpenSQLite("file:events_" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, client.DB().AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = client.Close() })

	clock := func() time.Time { return fixedNow }
	recorder, err := audit.NewService(audit.NewRepository(client.DB()))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Numbering:  numbering.NewService(numbering.WithClock(clock)),
		Poster:     stock.NewPoster(),
		Audit:      recorder,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), nil),
		Metrics:    metrics.NewInventoryMetrics(prometheus.NewRegistry()),
		Logger:     logger.New(logger.Options{ServiceName: "events-test", Output: io.Discard}),
		Config:     config.NumberingConfig{DistributionPrefix: "DIST", TransactionPrefix: "TXN", ResetDaily: true},
		Clock:      clock,
	})
	require.NoError(t, err)
	return &harness{client: client, svc: svc, stock: stock.NewRepository(client.DB()), audit: recorder}
}

func (h *harness) seedDepot(t *testing.T, depot stock.Location, equipment uuid.UUID, qty int64) {
	t.Helper()
	draft, err := h.svc.CreateDraft(context.Background(), CreateDraftInput{
		Kind:  enums.EventKindDistribution,
		Actor: "depot-manager",
		LineItems: []LineItemInput{{
			TxType:            enums.TxTypeManualAdjustment,
			Direction:         enums.MovementIn,
			EquipmentID:       equipment,
			EquipmentCategory: enums.EquipmentCategoryCylinder,
			Destination:       &depot,
			Quantity:          qty,
		}},
	})
	require.NoError(t, err)
	_, err = h.svc.Confirm(context.Background(), ConfirmInput{EventID: draft.ID, Actor: "depot-manager"})
	require.NoError(t, err)
}

func (h *harness) quantity(t *testing.T, location stock.Location, equipment uuid.UUID) int64 {
	t.Helper()
	pair := stock.Pair{Location: location, EquipmentID: equipment}
	qty, err := h.stock.Quantity(context.Background(), pair)
	require.NoError(t, err)
	sum, err := h.stock.MovementSum(context.Background(), pair)
	require.NoError(t, err)
	require.Equal(t, sum, qty, "snapshot diverged from ledger for %s", pair)
	return qty
}

func outOf(depot stock.Location, equipment uuid.UUID, txType enums.TxType, qty int64) LineItemInput {
	return LineItemInput{
		TxType:            txType,
		Direction:         enums.MovementOut,
		EquipmentID:       equipment,
		EquipmentCategory: enums.EquipmentCategoryCylinder,
		Source:            &depot,
		Quantity:          qty,
	}
}

func TestConfirmDistributionDecrementsDepot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 50)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindDistribution,
		Actor:     "driver-3",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 12)},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.EventStateDraft, draft.State)
	assert.Nil(t, draft.BusinessNumber)

	result, err := h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-3"})
	require.NoError(t, err)
	assert.False(t, result.Replay)
	assert.Equal(t, enums.EventStateConfirmed, result.Event.State)
	require.NotNil(t, result.Event.BusinessNumber)
	assert.Equal(t, "DIST-20261019-000002", *result.Event.BusinessNumber)
	require.NotNil(t, result.Event.ConfirmedAt)
	assert.True(t, fixedNow.Equal(*result.Event.ConfirmedAt))
	assert.Equal(t, "driver-3", *result.Event.ConfirmedBy)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, int64(50), result.Changes[0].Before)
	assert.Equal(t, int64(38), result.Changes[0].After)

	assert.Equal(t, int64(38), h.quantity(t, d1, e1))

	refID := draft.ID.String()
	entries, err := h.stock.ListEntries(ctx, stock.LedgerFilter{ReferenceID: &refID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-12), entries[0].QuantityDelta)
	assert.Equal(t, "DIST-20261019-000002:0", entries[0].IdempotencyKey)
	assert.Equal(t, enums.LedgerReferenceDistribution, entries[0].ReferenceType)

	entityType := enums.AuditEntityEvent
	trail, err := h.audit.List(ctx, audit.Filter{EntityType: &entityType, EntityID: &draft.ID})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, enums.AuditActionEventCreated, trail[0].Action)
	assert.Equal(t, enums.AuditActionEventConfirmed, trail[1].Action)
	var after auditState
	require.NoError(t, json.Unmarshal(trail[1].AfterState, &after))
	assert.Equal(t, enums.EventStateConfirmed, after.State)
	require.Len(t, after.Snapshots, 1)
	assert.Equal(t, int64(38), after.Snapshots[0].Quantity)

	var outboxRows []models.OutboxEvent
	require.NoError(t, h.client.DB().Where("aggregate_id = ?", draft.ID).Find(&outboxRows).Error)
	require.Len(t, outboxRows, 1)
	assert.Equal(t, enums.EventInventoryEventConfirmed, outboxRows[0].EventType)
}

func TestConfirmInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 38)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindTransaction,
		Actor:     "driver-3",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeDelivery, 100)},
	})
	require.NoError(t, err)

	_, err = h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-3"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	assert.Equal(t, int64(38), h.quantity(t, d1, e1))
	refID := draft.ID.String()
	entries, err := h.stock.ListEntries(ctx, stock.LedgerFilter{ReferenceID: &refID})
	require.NoError(t, err)
	assert.Empty(t, entries)

	still, err := h.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.EventStateDraft, still.State)
	assert.Nil(t, still.BusinessNumber, "the number is rolled back with the failed confirm")
}

func TestConfirmTwiceReturnsAlreadyConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 10)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindDistribution,
		Actor:     "driver-1",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 4)},
	})
	require.NoError(t, err)
	first, err := h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-1"})
	require.NoError(t, err)

	_, err = h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-2"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeAlreadyConfirmed, typed.Code())
	details := typed.Details().(map[string]any)
	assert.Equal(t, *first.Event.BusinessNumber, details["business_number"])
	assert.Equal(t, "driver-1", details["confirmed_by"])

	assert.Equal(t, int64(6), h.quantity(t, d1, e1))
}

func TestConcurrentConfirmsApplyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 20)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindDistribution,
		Actor:     "driver-1",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 5)},
	})
	require.NoError(t, err)

	const callers = 6
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-1"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyConfirmed), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(15), h.quantity(t, d1, e1))
}

func TestConfirmReplaysWhenLedgerAlreadyHasKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 9)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindDistribution,
		Actor:     "driver-1",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 3)},
	})
	require.NoError(t, err)

	// A previous attempt reserved the number and wrote the ledger entry.
	number := "DIST-20261019-000099"
	require.NoError(t, h.client.DB().Model(&models.Event{}).Where("id = ?", draft.ID).Update("business_number", number).Error)
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := stock.NewPoster().Post(ctx, tx, stock.PostInput{
			Actor:     "driver-1",
			Reference: stock.Reference{Type: enums.LedgerReferenceDistribution, ID: draft.ID.String()},
			Postings: []stock.Posting{{
				Pair:           stock.Pair{Location: d1, EquipmentID: e1},
				TxType:         enums.TxTypeLoad,
				Delta:          -3,
				IdempotencyKey: number + ":0",
			}},
		})
		return err
	}))

	result, err := h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-1"})
	require.NoError(t, err)
	assert.True(t, result.Replay)
	assert.Empty(t, result.Changes)
	assert.Equal(t, enums.EventStateConfirmed, result.Event.State)
	assert.Equal(t, number, *result.Event.BusinessNumber)
	assert.Equal(t, int64(6), h.quantity(t, d1, e1))
}

func TestConfirmTransferWritesBothSides(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, site, e1 := stock.Depot(uuid.New()), stock.CustomerSite(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 7)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:  enums.EventKindTransaction,
		Actor: "driver-9",
		LineItems: []LineItemInput{{
			TxType:            enums.TxTypeDelivery,
			Direction:         enums.MovementTransfer,
			EquipmentID:       e1,
			EquipmentCategory: enums.EquipmentCategoryCylinder,
			Source:            &d1,
			Destination:       &site,
			Quantity:          2,
		}},
	})
	require.NoError(t, err)
	result, err := h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-9"})
	require.NoError(t, err)
	assert.Equal(t, "TXN-20261019-000001", *result.Event.BusinessNumber)

	assert.Equal(t, int64(5), h.quantity(t, d1, e1))
	assert.Equal(t, int64(2), h.quantity(t, site, e1))
	refID := draft.ID.String()
	entries, err := h.stock.ListEntries(ctx, stock.LedgerFilter{ReferenceID: &refID})
	require.NoError(t, err)
	keys := []string{entries[0].IdempotencyKey, entries[1].IdempotencyKey}
	assert.ElementsMatch(t, []string{"TXN-20261019-000001:0:out", "TXN-20261019-000001:0:in"}, keys)
}

func TestCreateDraftWithClientReferenceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	ref := "tablet-42:0007"
	input := CreateDraftInput{
		Kind:            enums.EventKindDistribution,
		Actor:           "driver-1",
		ClientReference: &ref,
		LineItems:       []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 1)},
	}

	first, err := h.svc.CreateDraft(ctx, input)
	require.NoError(t, err)
	second, err := h.svc.CreateDraft(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.LineItems, 1)

	input.Kind = enums.EventKindTransaction
	input.LineItems = []LineItemInput{outOf(d1, e1, enums.TxTypeDelivery, 1)}
	_, err = h.svc.CreateDraft(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestReplaceLineItemsOnlyWhileDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d1, e1 := stock.Depot(uuid.New()), uuid.New()
	h.seedDepot(t, d1, e1, 10)

	draft, err := h.svc.CreateDraft(ctx, CreateDraftInput{
		Kind:      enums.EventKindDistribution,
		Actor:     "driver-1",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 1)},
	})
	require.NoError(t, err)

	updated, err := h.svc.ReplaceLineItems(ctx, ReplaceLineItemsInput{
		EventID:   draft.ID,
		Actor:     "dispatcher",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 3), outOf(d1, e1, enums.TxTypeLoad, 2)},
	})
	require.NoError(t, err)
	require.Len(t, updated.LineItems, 2)
	assert.Equal(t, 1, updated.LineItems[1].LineIndex)

	_, err = h.svc.Confirm(ctx, ConfirmInput{EventID: draft.ID, Actor: "driver-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.quantity(t, d1, e1))

	_, err = h.svc.ReplaceLineItems(ctx, ReplaceLineItemsInput{
		EventID:   draft.ID,
		Actor:     "dispatcher",
		LineItems: []LineItemInput{outOf(d1, e1, enums.TxTypeLoad, 1)},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCreateDraftValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	depot := stock.Depot(uuid.New())
	site := stock.CustomerSite(uuid.New())
	e1 := uuid.New()

	cases := map[string]CreateDraftInput{
		"unknown kind":        {Kind: "invoice", Actor: "a", LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeLoad, 1)}},
		"no line items":       {Kind: enums.EventKindDistribution, Actor: "a"},
		"tx type not allowed": {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeDelivery, 1)}},
		"reserved tx type":    {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeReconciliationAdjustment, 1)}},
		"zero quantity":       {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeLoad, 0)}},
		"quantity too large":  {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeLoad, MaxLineItemQuantity+1)}},
		"out without source":  {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{{TxType: enums.TxTypeLoad, Direction: enums.MovementOut, EquipmentID: e1, EquipmentCategory: enums.EquipmentCategoryMeter, Destination: &site, Quantity: 1}}},
		"transfer same place": {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{{TxType: enums.TxTypeTransfer, Direction: enums.MovementTransfer, EquipmentID: e1, EquipmentCategory: enums.EquipmentCategoryMeter, Source: &depot, Destination: &depot, Quantity: 1}}},
		"bad category":        {Kind: enums.EventKindDistribution, Actor: "a", LineItems: []LineItemInput{{TxType: enums.TxTypeLoad, Direction: enums.MovementOut, EquipmentID: e1, EquipmentCategory: "hose", Source: &depot, Quantity: 1}}},
	}
	for name, input := range cases {
		_, err := h.svc.CreateDraft(ctx, input)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%s: %v", name, err)
	}

	_, err := h.svc.CreateDraft(ctx, CreateDraftInput{Kind: enums.EventKindDistribution, LineItems: []LineItemInput{outOf(depot, e1, enums.TxTypeLoad, 1)}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestConfirmUnknownEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Confirm(context.Background(), ConfirmInput{EventID: uuid.New(), Actor: "a"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
