package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/projectrefill/refill-backend/api/middleware"
	"github.com/projectrefill/refill-backend/api/responses"
	"github.com/projectrefill/refill-backend/api/validators"
	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/db/models"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

type runReconciliationRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type reportView struct {
	ID                 uuid.UUID `json:"id"`
	RunDate            string    `json:"run_date"`
	ExecutedBy         string    `json:"executed_by"`
	PairsScanned       int       `json:"pairs_scanned"`
	MismatchesFound    int       `json:"mismatches_found"`
	CorrectionsApplied int       `json:"corrections_applied"`
	FailedPairs        int       `json:"failed_pairs"`
	RunCount           int       `json:"run_count"`
	LastRunAt          time.Time `json:"last_run_at"`
}

type correctionView struct {
	Pair        stock.Pair              `json:"pair"`
	Outcome     stock.CorrectionOutcome `json:"outcome"`
	Before      int64                   `json:"before"`
	MovementSum int64                   `json:"movement_sum"`
	Delta       int64                   `json:"delta"`
}

type runView struct {
	Report      reportView                   `json:"report"`
	Corrections []correctionView             `json:"corrections"`
	Failures    []reconciliation.PairFailure `json:"failures"`
}

// ReconciliationRun triggers a run for the given date, today in UTC when
// omitted. Pair failures do not fail the request; they are listed in the body.
func ReconciliationRun(svc reconciliation.Service, clock func() time.Time, logg *logger.Logger) http.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		var req runReconciliationRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(w, r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		runDate := clock().UTC()
		if strings.TrimSpace(req.Date) != "" {
			parsed, err := validators.ParseDate(req.Date, "date")
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			runDate = parsed
		}

		result, err := svc.Run(r.Context(), reconciliation.RunInput{
			Date:  runDate,
			Actor: middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view := runView{
			Report:      toReportView(*result.Report),
			Corrections: make([]correctionView, 0, len(result.Corrections)),
			Failures:    result.Failures,
		}
		if view.Failures == nil {
			view.Failures = []reconciliation.PairFailure{}
		}
		for _, c := range result.Corrections {
			if c.Outcome == stock.CorrectionInSync {
				continue
			}
			view.Corrections = append(view.Corrections, correctionView{
				Pair:        c.Pair,
				Outcome:     c.Outcome,
				Before:      c.Before,
				MovementSum: c.MovementSum,
				Delta:       c.Delta,
			})
		}
		responses.WriteSuccess(w, view)
	}
}

func ReconciliationGet(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		report, err := svc.GetReport(r.Context(), strings.TrimSpace(chi.URLParam(r, "runDate")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toReportView(*report))
	}
}

func ReconciliationList(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 30, 1, 90)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reports, err := svc.ListReports(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]reportView, 0, len(reports))
		for _, report := range reports {
			out = append(out, toReportView(report))
		}
		responses.WriteSuccess(w, out)
	}
}

func toReportView(report models.ReconciliationReport) reportView {
	return reportView{
		ID:                 report.ID,
		RunDate:            report.RunDate,
		ExecutedBy:         report.ExecutedBy,
		PairsScanned:       report.PairsScanned,
		MismatchesFound:    report.MismatchesFound,
		CorrectionsApplied: report.CorrectionsApplied,
		FailedPairs:        report.FailedPairs,
		RunCount:           report.RunCount,
		LastRunAt:          report.LastRunAt,
	}
}
