package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/api/responses"
	"github.com/projectrefill/refill-backend/api/validators"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/pagination"
)

// InventoryReader is the read side of the stock package.
type InventoryReader interface {
	Quantity(ctx context.Context, pair stock.Pair) (int64, error)
	ListSnapshots(ctx context.Context, filter stock.SnapshotFilter) ([]models.InventorySnapshot, error)
	ListEntries(ctx context.Context, filter stock.LedgerFilter) ([]models.LedgerEntry, error)
	MovementSum(ctx context.Context, pair stock.Pair) (int64, error)
	CorrectionTotal(ctx context.Context, pair stock.Pair) (int64, error)
}

type snapshotView struct {
	ID           uuid.UUID          `json:"id"`
	LocationType enums.LocationType `json:"location_type"`
	LocationID   uuid.UUID          `json:"location_id"`
	EquipmentID  uuid.UUID          `json:"equipment_id"`
	Quantity     int64              `json:"quantity"`
	LastUpdated  time.Time          `json:"last_updated"`
}

type ledgerEntryView struct {
	ID             uuid.UUID                 `json:"id"`
	TxType         enums.TxType              `json:"tx_type"`
	LocationType   enums.LocationType        `json:"location_type"`
	LocationID     uuid.UUID                 `json:"location_id"`
	EquipmentID    uuid.UUID                 `json:"equipment_id"`
	QuantityDelta  int64                     `json:"quantity_delta"`
	ReferenceType  enums.LedgerReferenceType `json:"reference_type"`
	ReferenceID    string                    `json:"reference_id"`
	IdempotencyKey string                    `json:"idempotency_key"`
	CreatedBy      string                    `json:"created_by"`
	CreatedAt      time.Time                 `json:"created_at"`
}

type ledgerPage struct {
	Entries    []ledgerEntryView `json:"entries"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// pairProof compares the snapshot with the movement sum, the ledger total of
// every entry except RECONCILIATION_ADJUSTMENT. LedgerTotal includes the
// corrections and is reported for completeness only.
type pairProof struct {
	Pair             stock.Pair `json:"pair"`
	Invariant        string     `json:"invariant"`
	SnapshotQuantity int64      `json:"snapshot_quantity"`
	MovementSum      int64      `json:"movement_sum"`
	CorrectionTotal  int64      `json:"correction_total"`
	LedgerTotal      int64      `json:"ledger_total"`
	Consistent       bool       `json:"consistent"`
}

const proofInvariant = "snapshot_quantity == movement_sum (ledger sum excluding RECONCILIATION_ADJUSTMENT)"

func SnapshotList(reader InventoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory reader unavailable"))
			return
		}
		filter, err := snapshotFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := reader.ListSnapshots(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list snapshots"))
			return
		}
		out := make([]snapshotView, 0, len(rows))
		for _, row := range rows {
			out = append(out, snapshotView{
				ID:           row.ID,
				LocationType: row.LocationType,
				LocationID:   row.LocationID,
				EquipmentID:  row.EquipmentID,
				Quantity:     row.Quantity,
				LastUpdated:  row.LastUpdated,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

// LedgerList pages through ledger entries oldest first.
func LedgerList(reader InventoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory reader unavailable"))
			return
		}
		base, err := snapshotFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		after, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		filter := stock.LedgerFilter{
			LocationType: base.LocationType,
			LocationID:   base.LocationID,
			EquipmentID:  base.EquipmentID,
			After:        after,
			Limit:        pagination.LimitWithBuffer(limit),
		}
		if ref := strings.TrimSpace(r.URL.Query().Get("reference_id")); ref != "" {
			filter.ReferenceID = &ref
		}

		rows, err := reader.ListEntries(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries"))
			return
		}

		rows, next := pagination.Trim(rows, limit, func(e models.LedgerEntry) pagination.Cursor {
			return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
		})
		page := ledgerPage{Entries: make([]ledgerEntryView, 0, len(rows)), NextCursor: next}
		for _, row := range rows {
			page.Entries = append(page.Entries, ledgerEntryView{
				ID:             row.ID,
				TxType:         row.TxType,
				LocationType:   row.LocationType,
				LocationID:     row.LocationID,
				EquipmentID:    row.EquipmentID,
				QuantityDelta:  row.QuantityDelta,
				ReferenceType:  row.ReferenceType,
				ReferenceID:    row.ReferenceID,
				IdempotencyKey: row.IdempotencyKey,
				CreatedBy:      row.CreatedBy,
				CreatedAt:      row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, page)
	}
}

// PairProof shows a pair's snapshot next to the movement sum it must equal.
func PairProof(reader InventoryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory reader unavailable"))
			return
		}
		pair, err := pairFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		qty, err := reader.Quantity(r.Context(), pair)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load snapshot"))
			return
		}
		sum, err := reader.MovementSum(r.Context(), pair)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger"))
			return
		}
		corrections, err := reader.CorrectionTotal(r.Context(), pair)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum corrections"))
			return
		}
		responses.WriteSuccess(w, pairProof{
			Pair:             pair,
			Invariant:        proofInvariant,
			SnapshotQuantity: qty,
			MovementSum:      sum,
			CorrectionTotal:  corrections,
			LedgerTotal:      sum + corrections,
			Consistent:       qty == sum,
		})
	}
}

func snapshotFilter(r *http.Request) (stock.SnapshotFilter, error) {
	locationType, err := validators.ParseQueryEnum(r, "location_type", enums.ParseLocationType)
	if err != nil {
		return stock.SnapshotFilter{}, err
	}
	locationID, err := validators.ParseQueryUUID(r, "location_id")
	if err != nil {
		return stock.SnapshotFilter{}, err
	}
	equipmentID, err := validators.ParseQueryUUID(r, "equipment_id")
	if err != nil {
		return stock.SnapshotFilter{}, err
	}
	limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 1000)
	if err != nil {
		return stock.SnapshotFilter{}, err
	}
	return stock.SnapshotFilter{
		LocationType: locationType,
		LocationID:   locationID,
		EquipmentID:  equipmentID,
		Limit:        limit,
	}, nil
}

func pairFromQuery(r *http.Request) (stock.Pair, error) {
	filter, err := snapshotFilter(r)
	if err != nil {
		return stock.Pair{}, err
	}
	if filter.LocationType == nil || filter.LocationID == nil || filter.EquipmentID == nil {
		return stock.Pair{}, pkgerrors.New(pkgerrors.CodeValidation, "location_type, location_id and equipment_id are required")
	}
	pair := stock.Pair{
		Location:    stock.Location{Type: *filter.LocationType, ID: *filter.LocationID},
		EquipmentID: *filter.EquipmentID,
	}
	if err := pair.Validate(); err != nil {
		return stock.Pair{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	return pair, nil
}
