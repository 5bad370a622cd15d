package reconciliation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	"github.com/projectrefill/refill-backend/pkg/enums"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/payloads"
)

// RunDateLayout is the calendar date format used for run dates.
const RunDateLayout = "2006-01-02"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pairLister interface {
	ListPairs(ctx context.Context) ([]stock.Pair, error)
}

type driftCorrector interface {
	CorrectDrift(ctx context.Context, tx *gorm.DB, pair stock.Pair, runDate time.Time, actor string) (*stock.Correction, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

// Service compares every snapshot against its ledger and corrects drift.
type Service interface {
	Run(ctx context.Context, input RunInput) (*Result, error)
	GetReport(ctx context.Context, runDate string) (*models.ReconciliationReport, error)
	ListReports(ctx context.Context, limit int) ([]models.ReconciliationReport, error)
}

// RunInput selects the calendar date the run is recorded under.
type RunInput struct {
	Date  time.Time
	Actor string
}

// PairFailure is a pair that could not be reconciled in a run.
type PairFailure struct {
	Pair  stock.Pair `json:"pair"`
	Error string     `json:"error"`
}

// Result describes one run. Err combines every pair failure and is nil when
// all pairs were reconciled.
type Result struct {
	Report      *models.ReconciliationReport `json:"report"`
	Corrections []stock.Correction           `json:"-"`
	Failures    []PairFailure                `json:"failures,omitempty"`
	Err         error                        `json:"-"`
}

// ServiceParams wires the reconciliation service.
type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Pairs      pairLister
	Corrector  driftCorrector
	Audit      audit.Recorder
	Outbox     outboxPublisher
	Metrics    *metrics.InventoryMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	tx        txRunner
	repo      Repository
	pairs     pairLister
	corrector driftCorrector
	audit     audit.Recorder
	outbox    outboxPublisher
	metrics   *metrics.InventoryMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("report repository required")
	}
	if params.Pairs == nil {
		return nil, fmt.Errorf("pair lister required")
	}
	if params.Corrector == nil {
		return nil, fmt.Errorf("drift corrector required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		tx:        params.DB,
		repo:      params.Repository,
		pairs:     params.Pairs,
		corrector: params.Corrector,
		audit:     params.Audit,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

// Run reconciles every pair found in the ledger or the snapshot table. Each
// pair is corrected in its own transaction so a failed pair neither blocks nor
// undoes the others, and a rerun for the same date resumes where it stopped.
func (s *service) Run(ctx context.Context, input RunInput) (*Result, error) {
	if input.Actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor is required")
	}
	if input.Date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run date is required")
	}
	runDate := time.Date(input.Date.Year(), input.Date.Month(), input.Date.Day(), 0, 0, 0, 0, time.UTC)
	dateKey := runDate.Format(RunDateLayout)
	logCtx := s.logg.WithRunDate(ctx, dateKey)
	logCtx = s.logg.WithActor(logCtx, input.Actor)

	pairs, err := s.pairs.ListPairs(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory pairs")
	}

	result := &Result{}
	mismatches := 0
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			result.Err = multierr.Append(result.Err, err)
			break
		}
		correction, err := s.reconcilePair(ctx, pair, runDate, input.Actor)
		if err != nil {
			s.metrics.IncReconcileFailure()
			result.Err = multierr.Append(result.Err, fmt.Errorf("reconcile %s: %w", pair, err))
			result.Failures = append(result.Failures, PairFailure{Pair: pair, Error: err.Error()})
			s.logg.Error(s.logg.WithField(logCtx, "pair", pair.String()), "pair reconciliation failed", err)
			continue
		}
		switch correction.Outcome {
		case stock.CorrectionApplied:
			mismatches++
			result.Corrections = append(result.Corrections, *correction)
		case stock.CorrectionDuplicate:
			mismatches++
			s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
				"pair":     pair.String(),
				"snapshot": correction.Before,
				"ledger":   correction.MovementSum,
			}), "drift reappeared after this date's correction")
		}
	}

	report, err := s.repo.RecordRun(ctx, RunTotals{
		RunDate:            dateKey,
		ExecutedBy:         input.Actor,
		PairsScanned:       len(pairs),
		MismatchesFound:    mismatches,
		CorrectionsApplied: len(result.Corrections),
		FailedPairs:        len(result.Failures),
		RanAt:              s.now().UTC(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reconciliation report")
	}
	result.Report = report

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.Event{
			Type:          enums.EventReconciliationCompleted,
			AggregateType: enums.AggregateReconciliationRun,
			AggregateID:   report.ID,
			Actor:         input.Actor,
			OccurredAt:    report.LastRunAt,
			Data: payloads.ReconciliationCompleted{
				ReportID:           report.ID,
				RunDate:            dateKey,
				ExecutedBy:         input.Actor,
				PairsScanned:       len(pairs),
				MismatchesFound:    mismatches,
				CorrectionsApplied: len(result.Corrections),
				FailedPairs:        len(result.Failures),
			},
		})
	}); err != nil {
		s.logg.Error(logCtx, "queue reconciliation completed event", err)
	}

	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"pairs_scanned":       len(pairs),
		"mismatches_found":    mismatches,
		"corrections_applied": len(result.Corrections),
		"failed_pairs":        len(result.Failures),
		"run_count":           report.RunCount,
	}), "reconciliation run complete")
	return result, nil
}

func (s *service) reconcilePair(ctx context.Context, pair stock.Pair, runDate time.Time, actor string) (*stock.Correction, error) {
	var correction *stock.Correction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		correction, err = s.corrector.CorrectDrift(ctx, tx, pair, runDate, actor)
		if err != nil {
			return err
		}
		if correction.Outcome != stock.CorrectionApplied {
			return nil
		}

		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			Actor:      actor,
			Action:     enums.AuditActionReconciliationCorrected,
			EntityType: enums.AuditEntitySnapshot,
			EntityID:   correction.SnapshotID,
			Before:     snapshotState{Pair: pair, Quantity: correction.Before},
			After: snapshotState{
				Pair:           pair,
				Quantity:       correction.MovementSum,
				Delta:          correction.Delta,
				IdempotencyKey: correction.Entry.IdempotencyKey,
			},
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.Event{
			Type:          enums.EventInventoryDriftCorrected,
			AggregateType: enums.AggregateInventorySnapshot,
			AggregateID:   correction.SnapshotID,
			Actor:         actor,
			OccurredAt:    s.now().UTC(),
			Data: payloads.InventoryDriftCorrected{
				SnapshotID:     correction.SnapshotID,
				RunDate:        runDate.Format(RunDateLayout),
				LocationType:   pair.Location.Type,
				LocationID:     pair.Location.ID,
				EquipmentID:    pair.EquipmentID,
				SnapshotBefore: correction.Before,
				LedgerSum:      correction.MovementSum,
				Delta:          correction.Delta,
				IdempotencyKey: correction.Entry.IdempotencyKey,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if correction.Outcome == stock.CorrectionApplied {
		s.metrics.ObserveDrift(string(pair.Location.Type), correction.Delta)
	}
	return correction, nil
}

func (s *service) GetReport(ctx context.Context, runDate string) (*models.ReconciliationReport, error) {
	if _, err := time.Parse(RunDateLayout, runDate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "run date must be YYYY-MM-DD")
	}
	report, err := s.repo.FindByRunDate(ctx, runDate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation report")
	}
	if report == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no reconciliation run for date")
	}
	return report, nil
}

func (s *service) ListReports(ctx context.Context, limit int) ([]models.ReconciliationReport, error) {
	reports, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconciliation reports")
	}
	return reports, nil
}

type snapshotState struct {
	Pair           stock.Pair `json:"pair"`
	Quantity       int64      `json:"quantity"`
	Delta          int64      `json:"delta,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}
