package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectrefill/refill-backend/internal/audit"
	"github.com/projectrefill/refill-backend/internal/reconciliation"
	"github.com/projectrefill/refill-backend/internal/stock"
	"github.com/projectrefill/refill-backend/pkg/outbox"
)

type reconcileSummary struct {
	RunDate            string                       `json:"run_date"`
	PairsScanned       int                          `json:"pairs_scanned"`
	MismatchesFound    int                          `json:"mismatches_found"`
	CorrectionsApplied int                          `json:"corrections_applied"`
	RunCount           int                          `json:"run_count"`
	Failures           []reconciliation.PairFailure `json:"failures,omitempty"`
}

func newReconcileCmd(open opener) *cobra.Command {
	var (
		date  string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run reconciliation for a calendar date",
		Long: `Compare every snapshot with its ledger movement sum and correct drift.

The run is recorded under --date (YYYY-MM-DD). Without --date the current
date in the configured reconciliation timezone is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			runDate, err := resolveRunDate(date, rt.cfg.Reconciliation.Location, time.Now)
			if err != nil {
				return err
			}
			if strings.TrimSpace(actor) == "" {
				actor = rt.cfg.Reconciliation.Actor
			}

			recorder, err := audit.NewService(audit.NewRepository(rt.db.DB()))
			if err != nil {
				return err
			}
			svc, err := reconciliation.NewService(reconciliation.ServiceParams{
				DB:         rt.db,
				Repository: reconciliation.NewRepository(rt.db.DB()),
				Pairs:      stock.NewRepository(rt.db.DB()),
				Corrector:  stock.NewPoster(),
				Audit:      recorder,
				Outbox:     outbox.NewService(outbox.NewRepository(rt.db.DB()), rt.logg),
				Logger:     rt.logg,
			})
			if err != nil {
				return err
			}

			result, err := svc.Run(cmd.Context(), reconciliation.RunInput{Date: runDate, Actor: actor})
			if err != nil {
				return err
			}
			summary := reconcileSummary{
				RunDate:            result.Report.RunDate,
				PairsScanned:       result.Report.PairsScanned,
				MismatchesFound:    result.Report.MismatchesFound,
				CorrectionsApplied: result.Report.CorrectionsApplied,
				RunCount:           result.Report.RunCount,
				Failures:           result.Failures,
			}
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if result.Err != nil {
				return fmt.Errorf("%d pairs failed: %w", len(result.Failures), result.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded on the run (defaults to the configured reconciliation actor)")
	return cmd
}

func resolveRunDate(raw string, location func() (*time.Location, error), now func() time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) != "" {
		parsed, err := time.Parse(reconciliation.RunDateLayout, strings.TrimSpace(raw))
		if err != nil {
			return time.Time{}, fmt.Errorf("--date must use YYYY-MM-DD: %w", err)
		}
		return parsed, nil
	}
	loc, err := location()
	if err != nil {
		return time.Time{}, err
	}
	local := now().In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}
