package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

type reconciler interface {
	Run(ctx context.Context, input reconciliation.RunInput) (*reconciliation.Result, error)
}

// ReconciliationJobParams configures the scheduled inventory reconciliation.
type ReconciliationJobParams struct {
	Logger     *logger.Logger
	Reconciler reconciler
	Actor      string
	Location   *time.Location
	Now        func() time.Time
}

// NewReconciliationJob reconciles every pair under today's date in Location.
// Repeated runs on the same day resume the date's report.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	if params.Actor == "" {
		return nil, fmt.Errorf("reconciliation actor required")
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &reconciliationJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		actor:      params.Actor,
		loc:        loc,
		now:        now,
	}, nil
}

type reconciliationJob struct {
	logg       *logger.Logger
	reconciler reconciler
	actor      string
	loc        *time.Location
	now        func() time.Time
}

func (j *reconciliationJob) Name() string { return "inventory-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	local := j.now().In(j.loc)
	runDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	j.logg.Info(j.logg.WithRunDate(ctx, runDate.Format(reconciliation.RunDateLayout)), "reconciliation starting")
	result, err := j.reconciler.Run(ctx, reconciliation.RunInput{Date: runDate, Actor: j.actor})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", runDate.Format(reconciliation.RunDateLayout), err)
	}
	if result.Err != nil {
		return fmt.Errorf("reconcile %s: %d pairs failed: %w", runDate.Format(reconciliation.RunDateLayout), len(result.Failures), result.Err)
	}
	return nil
}
