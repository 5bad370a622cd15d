package reconciliation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectrefill/refill-backend/internal/repo"
	"github.com/projectrefill/refill-backend/pkg/db/models"
)

// Repository persists the per-date reconciliation reports.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByRunDate(ctx context.Context, runDate string) (*models.ReconciliationReport, error)
	RecordRun(ctx context.Context, run RunTotals) (*models.ReconciliationReport, error)
	List(ctx context.Context, limit int) ([]models.ReconciliationReport, error)
}

// RunTotals is what a single run adds to its date's report.
type RunTotals struct {
	RunDate            string
	ExecutedBy         string
	PairsScanned       int
	MismatchesFound    int
	CorrectionsApplied int
	FailedPairs        int
	RanAt              time.Time
}

type repository struct {
	repo.Base
}

// NewRepository returns a report repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// FindByRunDate returns nil when no run happened on that date.
func (r *repository) FindByRunDate(ctx context.Context, runDate string) (*models.ReconciliationReport, error) {
	var report models.ReconciliationReport
	err := r.DB(ctx).Where("run_date = ?", runDate).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// RecordRun upserts the date's report. Mismatch and correction counts
// accumulate across runs of the same date; scanned and failed pair counts
// describe the latest run.
func (r *repository) RecordRun(ctx context.Context, run RunTotals) (*models.ReconciliationReport, error) {
	report := models.ReconciliationReport{
		RunDate:            run.RunDate,
		ExecutedBy:         run.ExecutedBy,
		PairsScanned:       run.PairsScanned,
		MismatchesFound:    run.MismatchesFound,
		CorrectionsApplied: run.CorrectionsApplied,
		FailedPairs:        run.FailedPairs,
		RunCount:           1,
		LastRunAt:          run.RanAt,
	}
	db := r.DB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"executed_by":         run.ExecutedBy,
			"pairs_scanned":       run.PairsScanned,
			"failed_pairs":        run.FailedPairs,
			"mismatches_found":    gorm.Expr("reconciliation_reports.mismatches_found + ?", run.MismatchesFound),
			"corrections_applied": gorm.Expr("reconciliation_reports.corrections_applied + ?", run.CorrectionsApplied),
			"run_count":           gorm.Expr("reconciliation_reports.run_count + 1"),
			"last_run_at":         run.RanAt,
			"updated_at":          run.RanAt,
		}),
	}).Create(&report).Error
	if err != nil {
		return nil, err
	}
	var stored models.ReconciliationReport
	if err := db.Where("run_date = ?", run.RunDate).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// List returns the most recent reports first.
func (r *repository) List(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	var reports []models.ReconciliationReport
	err := r.DB(ctx).
		Order("run_date DESC").
		Limit(listLimits.Clamp(limit)).
		Find(&reports).Error
	return reports, err
}

var listLimits = repo.Limits{Default: 90, Max: 90}
