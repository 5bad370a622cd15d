package stock

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/repo"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/pagination"
)

// Repository exposes read access to snapshots and the ledger. Writes only go
// through Poster.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// SnapshotFilter narrows snapshot listings.
type SnapshotFilter struct {
	LocationType *enums.LocationType
	LocationID   *uuid.UUID
	EquipmentID  *uuid.UUID
	Limit        int
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	LocationType  *enums.LocationType
	LocationID    *uuid.UUID
	EquipmentID   *uuid.UUID
	ReferenceType *enums.LedgerReferenceType
	ReferenceID   *string
	After         *pagination.Cursor
	Limit         int
}

// Quantity returns the cached quantity for the pair; absent rows read as zero.
func (r *Repository) Quantity(ctx context.Context, pair Pair) (int64, error) {
	var snap models.InventorySnapshot
	err := r.DB(ctx).
		Where("location_type = ? AND location_id = ? AND equipment_id = ?", pair.Location.Type, pair.Location.ID, pair.EquipmentID).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snap.Quantity, nil
}

func (r *Repository) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.InventorySnapshot, error) {
	query := r.DB(ctx).Model(&models.InventorySnapshot{})
	if filter.LocationType != nil {
		query = query.Where("location_type = ?", *filter.LocationType)
	}
	if filter.LocationID != nil {
		query = query.Where("location_id = ?", *filter.LocationID)
	}
	if filter.EquipmentID != nil {
		query = query.Where("equipment_id = ?", *filter.EquipmentID)
	}
	var rows []models.InventorySnapshot
	err := query.
		Order("location_type ASC").
		Order("location_id ASC").
		Order("equipment_id ASC").
		Limit(listLimits.Clamp(filter.Limit)).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListEntries(ctx context.Context, filter LedgerFilter) ([]models.LedgerEntry, error) {
	query := r.DB(ctx).Model(&models.LedgerEntry{})
	if filter.LocationType != nil {
		query = query.Where("location_type = ?", *filter.LocationType)
	}
	if filter.LocationID != nil {
		query = query.Where("location_id = ?", *filter.LocationID)
	}
	if filter.EquipmentID != nil {
		query = query.Where("equipment_id = ?", *filter.EquipmentID)
	}
	if filter.ReferenceType != nil {
		query = query.Where("reference_type = ?", *filter.ReferenceType)
	}
	if filter.ReferenceID != nil {
		query = query.Where("reference_id = ?", *filter.ReferenceID)
	}
	if filter.After != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", filter.After.CreatedAt, filter.After.CreatedAt, filter.After.ID)
	}
	var rows []models.LedgerEntry
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(listLimits.Clamp(filter.Limit)).
		Find(&rows).Error
	return rows, err
}

// MovementSum recomputes the pair's quantity from the ledger.
func (r *Repository) MovementSum(ctx context.Context, pair Pair) (int64, error) {
	return movementSum(r.DB(ctx), pair)
}

// CorrectionTotal sums the reconciliation adjustments recorded for the pair.
func (r *Repository) CorrectionTotal(ctx context.Context, pair Pair) (int64, error) {
	var sum int64
	err := r.DB(ctx).Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("location_type = ? AND location_id = ? AND equipment_id = ?", pair.Location.Type, pair.Location.ID, pair.EquipmentID).
		Where("tx_type = ?", enums.TxTypeReconciliationAdjustment).
		Scan(&sum).Error
	return sum, err
}

// EntryExists reports whether an idempotency key is already in the ledger.
func (r *Repository) EntryExists(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	var count int64
	err := r.Conn(ctx, tx).Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

type pairRow struct {
	LocationType enums.LocationType
	LocationID   uuid.UUID
	EquipmentID  uuid.UUID
}

// ListPairs returns every pair present in the ledger or the snapshot table, in lock order.
func (r *Repository) ListPairs(ctx context.Context) ([]Pair, error) {
	var rows []pairRow
	err := r.DB(ctx).Raw(`
SELECT location_type, location_id, equipment_id FROM ledger_entries
UNION
SELECT location_type, location_id, equipment_id FROM inventory_snapshots`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, Pair{
			Location:    Location{Type: row.LocationType, ID: row.LocationID},
			EquipmentID: row.EquipmentID,
		})
	}
	SortPairs(pairs)
	return pairs, nil
}

var listLimits = repo.Limits{Default: 100, Max: 1000}
