package stock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/projectrefill/refill-backend/pkg/db"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
)

const (
	postSavepoint       = "stock_post"
	correctionSavepoint = "stock_correction"
	runDateLayout       = "2006-01-02"
	referenceDateLayout = "20060102"
)

// Posting is one signed movement against a pair.
type Posting struct {
	Pair           Pair
	TxType         enums.TxType
	Delta          int64
	IdempotencyKey string
}

// Reference ties ledger entries to what produced them.
type Reference struct {
	Type enums.LedgerReferenceType
	ID   string
}

// PostInput carries every posting of one business operation.
type PostInput struct {
	Actor     string
	Reference Reference
	Postings  []Posting
}

// PairChange is the snapshot quantity of a pair around a write.
type PairChange struct {
	Pair   Pair  `json:"pair"`
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// PostResult reports what a successful Post wrote.
type PostResult struct {
	Entries []models.LedgerEntry
	Changes []PairChange
}

// Poster is the only writer of ledger entries and inventory snapshots.
type Poster struct {
	now func() time.Time
}

func NewPoster() *Poster {
	return &Poster{now: time.Now}
}

// Post appends the ledger entries and applies their net effect to the snapshots,
// inside the caller's transaction. Snapshot rows are locked in SortPairs order.
// If any idempotency key was already written ErrDuplicateIdempotencyKey is
// returned with no ledger or snapshot change, ahead of the stock check. A pair
// whose net effect would go below zero fails the whole post with an
// INSUFFICIENT_STOCK error. Net effects that do not fit in an int64 fail
// with a VALIDATION_ERROR.
func (p *Poster) Post(ctx context.Context, tx *gorm.DB, input PostInput) (*PostResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := validatePostInput(input); err != nil {
		return nil, err
	}
	tx = tx.WithContext(ctx)

	net := make(map[Pair]int64, len(input.Postings))
	pairs := make([]Pair, 0, len(input.Postings))
	for _, posting := range input.Postings {
		if _, seen := net[posting.Pair]; !seen {
			pairs = append(pairs, posting.Pair)
		}
		sum, ok := addInt64(net[posting.Pair], posting.Delta)
		if !ok {
			return nil, quantityOverflow(posting.Pair)
		}
		net[posting.Pair] = sum
	}
	SortPairs(pairs)

	snapshots, err := p.lockSnapshots(tx, pairs)
	if err != nil {
		return nil, err
	}

	applied, err := anyKeyApplied(tx, input.Postings)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, ErrDuplicateIdempotencyKey
	}

	var shortages []Shortage
	for _, pair := range pairs {
		current := snapshots[pair].Quantity
		after, ok := addInt64(current, net[pair])
		if !ok {
			return nil, quantityOverflow(pair)
		}
		if after < 0 {
			shortages = append(shortages, Shortage{
				Location:    pair.Location,
				EquipmentID: pair.EquipmentID,
				Available:   current,
				Required:    -net[pair],
			})
		}
	}
	if len(shortages) > 0 {
		return nil, insufficientStock(shortages)
	}

	entries := make([]models.LedgerEntry, 0, len(input.Postings))
	for _, posting := range input.Postings {
		entries = append(entries, models.LedgerEntry{
			TxType:         posting.TxType,
			LocationType:   posting.Pair.Location.Type,
			LocationID:     posting.Pair.Location.ID,
			EquipmentID:    posting.Pair.EquipmentID,
			QuantityDelta:  posting.Delta,
			ReferenceType:  input.Reference.Type,
			ReferenceID:    input.Reference.ID,
			IdempotencyKey: posting.IdempotencyKey,
			CreatedBy:      input.Actor,
		})
	}
	if err := insertEntries(tx, postSavepoint, entries); err != nil {
		return nil, err
	}

	now := p.now().UTC()
	changes := make([]PairChange, 0, len(pairs))
	for _, pair := range pairs {
		snap := snapshots[pair]
		after := snap.Quantity + net[pair]
		if err := setSnapshotQuantity(tx, snap, after, now); err != nil {
			return nil, err
		}
		changes = append(changes, PairChange{Pair: pair, Before: snap.Quantity, After: after})
	}

	return &PostResult{Entries: entries, Changes: changes}, nil
}

// CorrectionOutcome classifies what CorrectDrift did for a pair.
type CorrectionOutcome string

const (
	CorrectionInSync    CorrectionOutcome = "in_sync"
	CorrectionApplied   CorrectionOutcome = "applied"
	CorrectionDuplicate CorrectionOutcome = "already_corrected"
)

// Correction reports the reconciliation of one pair.
type Correction struct {
	Pair        Pair
	SnapshotID  uuid.UUID
	Outcome     CorrectionOutcome
	Before      int64
	MovementSum int64
	Delta       int64
	Entry       *models.LedgerEntry
}

// CorrectDrift locks the pair's snapshot, recomputes its movement sum and, when
// they differ, appends a RECONCILIATION_ADJUSTMENT entry for the difference and
// moves the snapshot onto the movement sum. The adjustment key is unique per
// run date and pair, so a second correction on the same date is skipped.
func (p *Poster) CorrectDrift(ctx context.Context, tx *gorm.DB, pair Pair, runDate time.Time, actor string) (*Correction, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if err := pair.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pair")
	}
	tx = tx.WithContext(ctx)

	snapshots, err := p.lockSnapshots(tx, []Pair{pair})
	if err != nil {
		return nil, err
	}
	snap := snapshots[pair]

	sum, err := movementSum(tx, pair)
	if err != nil {
		return nil, err
	}

	correction := &Correction{
		Pair:        pair,
		SnapshotID:  snap.ID,
		Outcome:     CorrectionInSync,
		Before:      snap.Quantity,
		MovementSum: sum,
	}
	if sum == snap.Quantity {
		return correction, nil
	}
	correction.Delta = sum - snap.Quantity

	entry := models.LedgerEntry{
		TxType:         enums.TxTypeReconciliationAdjustment,
		LocationType:   pair.Location.Type,
		LocationID:     pair.Location.ID,
		EquipmentID:    pair.EquipmentID,
		QuantityDelta:  correction.Delta,
		ReferenceType:  enums.LedgerReferenceReconciliation,
		ReferenceID:    runDate.Format(referenceDateLayout),
		IdempotencyKey: ReconciliationKey(runDate, pair),
		CreatedBy:      actor,
	}
	entries := []models.LedgerEntry{entry}
	if err := insertEntries(tx, correctionSavepoint, entries); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			correction.Outcome = CorrectionDuplicate
			return correction, nil
		}
		return nil, err
	}

	if err := setSnapshotQuantity(tx, snap, sum, p.now().UTC()); err != nil {
		return nil, err
	}
	correction.Outcome = CorrectionApplied
	correction.Entry = &entries[0]
	return correction, nil
}

// ReconciliationKey is the idempotency key of a pair's correction for a run date.
func ReconciliationKey(runDate time.Time, pair Pair) string {
	return fmt.Sprintf("recon:%s:%s:%s:%s",
		runDate.Format(runDateLayout),
		pair.Location.Type,
		pair.Location.ID,
		pair.EquipmentID,
	)
}

func validatePostInput(input PostInput) error {
	if input.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}
	if !input.Reference.Type.IsValid() || input.Reference.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger reference is required")
	}
	if len(input.Postings) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one posting is required")
	}
	keys := make(map[string]struct{}, len(input.Postings))
	for i, posting := range input.Postings {
		if err := posting.Pair.Validate(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("posting %d", i))
		}
		if !posting.TxType.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: invalid tx type %q", i, posting.TxType))
		}
		if posting.Delta == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: delta must be non-zero", i))
		}
		if posting.IdempotencyKey == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: idempotency key is required", i))
		}
		if _, dup := keys[posting.IdempotencyKey]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: idempotency key %q repeated", i, posting.IdempotencyKey))
		}
		keys[posting.IdempotencyKey] = struct{}{}
	}
	return nil
}

// lockSnapshots creates missing rows at zero, then locks each row in order.
func (p *Poster) lockSnapshots(tx *gorm.DB, pairs []Pair) (map[Pair]models.InventorySnapshot, error) {
	now := p.now().UTC()
	out := make(map[Pair]models.InventorySnapshot, len(pairs))
	for _, pair := range pairs {
		seed := models.InventorySnapshot{
			LocationType: pair.Location.Type,
			LocationID:   pair.Location.ID,
			EquipmentID:  pair.EquipmentID,
			LastUpdated:  now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("seed snapshot %s", pair))
		}

		var snap models.InventorySnapshot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("location_type = ? AND location_id = ? AND equipment_id = ?", pair.Location.Type, pair.Location.ID, pair.EquipmentID).
			First(&snap).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("lock snapshot %s", pair))
		}
		out[pair] = snap
	}
	return out, nil
}

// addInt64 returns a+b and false when the sum does not fit in an int64.
func addInt64(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

func quantityOverflow(pair Pair) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for %s is out of range", pair))
}

// anyKeyApplied reports whether one of the postings' idempotency keys is
// already in the ledger. The insert's unique index still backs this up.
func anyKeyApplied(tx *gorm.DB, postings []Posting) (bool, error) {
	keys := make([]string, 0, len(postings))
	for _, posting := range postings {
		keys = append(keys, posting.IdempotencyKey)
	}
	var count int64
	if err := tx.Model(&models.LedgerEntry{}).Where("idempotency_key IN ?", keys).Count(&count).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency keys")
	}
	return count > 0, nil
}

func insertEntries(tx *gorm.DB, savepoint string, entries []models.LedgerEntry) error {
	if err := tx.SavePoint(savepoint).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create savepoint")
	}
	if err := tx.Create(&entries).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback to savepoint")
			}
			return ErrDuplicateIdempotencyKey
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entries")
	}
	return nil
}

func setSnapshotQuantity(tx *gorm.DB, snap models.InventorySnapshot, quantity int64, at time.Time) error {
	res := tx.Model(&models.InventorySnapshot{}).
		Where("id = ?", snap.ID).
		Updates(map[string]any{
			"quantity":     quantity,
			"last_updated": at,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update snapshot")
	}
	if res.RowsAffected != 1 {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("snapshot %s vanished while locked", snap.ID))
	}
	return nil
}

// movementSum totals every ledger entry of the pair except reconciliation
// adjustments, which record corrections made to the snapshot rather than
// physical movements.
func movementSum(tx *gorm.DB, pair Pair) (int64, error) {
	var sum int64
	err := tx.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Where("location_type = ? AND location_id = ? AND equipment_id = ?", pair.Location.Type, pair.Location.ID, pair.EquipmentID).
		Where("tx_type <> ?", enums.TxTypeReconciliationAdjustment).
		Scan(&sum).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("sum ledger %s", pair))
	}
	return sum, nil
}
