package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReconciliationReport aggregates every run for a calendar date.
type ReconciliationReport struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RunDate            string    `gorm:"column:run_date;type:text;not null;uniqueIndex:reconciliation_reports_run_date_key"`
	ExecutedBy         string    `gorm:"column:executed_by;not null"`
	PairsScanned       int       `gorm:"column:pairs_scanned;not null;default:0"`
	MismatchesFound    int       `gorm:"column:mismatches_found;not null;default:0"`
	CorrectionsApplied int       `gorm:"column:corrections_applied;not null;default:0"`
	FailedPairs        int       `gorm:"column:failed_pairs;not null;default:0"`
	RunCount           int       `gorm:"column:run_count;not null;default:1"`
	LastRunAt          time.Time `gorm:"column:last_run_at;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReconciliationReport) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
