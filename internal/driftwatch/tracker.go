package driftwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/projectrefill/refill-backend/pkg/bigquery"
	"github.com/projectrefill/refill-backend/pkg/enums"
	"github.com/projectrefill/refill-backend/pkg/logger"
	"github.com/projectrefill/refill-backend/pkg/metrics"
	"github.com/projectrefill/refill-backend/pkg/outbox"
	"github.com/projectrefill/refill-backend/pkg/outbox/payloads"
	"github.com/projectrefill/refill-backend/pkg/redis"
)

// StreakStore persists per-pair drift streaks between runs.
type StreakStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	StateKey(parts ...string) string
}

// RowInserter exports rows to the analytics warehouse.
type RowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// TrackerParams wires a Tracker. Rows may be nil to disable export.
type TrackerParams struct {
	Store               StreakStore
	Rows                RowInserter
	DriftTable          string
	ReconciliationTable string
	Threshold           int
	TTL                 time.Duration
	Metrics             *metrics.DriftWatchMetrics
	Logger              *logger.Logger
}

// Tracker follows drift corrections per location/equipment pair and raises an
// alert once the same pair drifts in the same direction on consecutive run dates.
type Tracker struct {
	store               StreakStore
	rows                RowInserter
	driftTable          string
	reconciliationTable string
	threshold           int
	ttl                 time.Duration
	metrics             *metrics.DriftWatchMetrics
	logg                *logger.Logger
}

func NewTracker(params TrackerParams) (*Tracker, error) {
	if params.Store == nil {
		return nil, errors.New("streak store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Threshold < 2 {
		return nil, errors.New("streak threshold must be at least 2")
	}
	if params.TTL <= 0 {
		return nil, errors.New("streak ttl must be positive")
	}
	return &Tracker{
		store:               params.Store,
		rows:                params.Rows,
		driftTable:          strings.TrimSpace(params.DriftTable),
		reconciliationTable: strings.TrimSpace(params.ReconciliationTable),
		threshold:           params.Threshold,
		ttl:                 params.TTL,
		metrics:             params.Metrics,
		logg:                params.Logger,
	}, nil
}

// Accepts reports whether the tracker consumes eventType.
func (t *Tracker) Accepts(eventType enums.OutboxEventType) bool {
	return eventType == enums.EventInventoryDriftCorrected || eventType == enums.EventReconciliationCompleted
}

// Handle processes one decoded envelope.
func (t *Tracker) Handle(ctx context.Context, env outbox.Envelope) error {
	switch env.EventType {
	case enums.EventInventoryDriftCorrected:
		return t.handleDrift(ctx, env)
	case enums.EventReconciliationCompleted:
		return t.handleRun(ctx, env)
	default:
		return nil
	}
}

// streak is the stored state for one pair. LastRunDate uses the YYYY-MM-DD run date layout.
type streak struct {
	Sign        string `json:"sign"`
	Count       int    `json:"count"`
	LastRunDate string `json:"last_run_date"`
}

// advance folds one correction into prev. It reports false when the correction
// belongs to a run already counted or to an older run. A streak only grows
// when the correction lands on the run date right after the previous one.
func advance(prev streak, sign, runDate string) (streak, bool) {
	if prev.LastRunDate != "" && runDate <= prev.LastRunDate {
		return prev, false
	}
	if prev.Sign == sign && nextDay(prev.LastRunDate) == runDate {
		return streak{Sign: sign, Count: prev.Count + 1, LastRunDate: runDate}, true
	}
	return streak{Sign: sign, Count: 1, LastRunDate: runDate}, true
}

func nextDay(runDate string) string {
	day, err := time.Parse(time.DateOnly, runDate)
	if err != nil {
		return ""
	}
	return day.AddDate(0, 0, 1).Format(time.DateOnly)
}

func driftSign(delta int64) string {
	if delta < 0 {
		return "negative"
	}
	return "positive"
}

type driftRow struct {
	EventID        string    `bigquery:"event_id"`
	SnapshotID     string    `bigquery:"snapshot_id"`
	RunDate        string    `bigquery:"run_date"`
	LocationType   string    `bigquery:"location_type"`
	LocationID     string    `bigquery:"location_id"`
	EquipmentID    string    `bigquery:"equipment_id"`
	SnapshotBefore int64     `bigquery:"snapshot_before"`
	LedgerSum      int64     `bigquery:"ledger_sum"`
	Delta          int64     `bigquery:"delta"`
	StreakLength   int       `bigquery:"streak_length"`
	OccurredAt     time.Time `bigquery:"occurred_at"`
}

type reconciliationRow struct {
	EventID            string    `bigquery:"event_id"`
	ReportID           string    `bigquery:"report_id"`
	RunDate            string    `bigquery:"run_date"`
	ExecutedBy         string    `bigquery:"executed_by"`
	PairsScanned       int       `bigquery:"pairs_scanned"`
	MismatchesFound    int       `bigquery:"mismatches_found"`
	CorrectionsApplied int       `bigquery:"corrections_applied"`
	FailedPairs        int       `bigquery:"failed_pairs"`
	OccurredAt         time.Time `bigquery:"occurred_at"`
}

func (r driftRow) InsertID() string { return r.EventID }
func (r reconciliationRow) InsertID() string { return r.EventID }

// ExportTables lists the warehouse tables the tracker writes, both partitioned
// by event time.
func ExportTables(driftTable, reconciliationTable string) []bigquery.Table {
	return []bigquery.Table{
		{Name: driftTable, Row: driftRow{}, PartitionField: "occurred_at"},
		{Name: reconciliationTable, Row: reconciliationRow{}, PartitionField: "occurred_at"},
	}
}

func (t *Tracker) handleDrift(ctx context.Context, env outbox.Envelope) error {
	var payload payloads.InventoryDriftCorrected
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("decode drift payload: %w", err)
	}
	if payload.Delta == 0 {
		return nil
	}

	ctx = t.logg.WithFields(ctx, map[string]any{
		"run_date":      payload.RunDate,
		"location_type": payload.LocationType,
		"location_id":   payload.LocationID.String(),
		"equipment_id":  payload.EquipmentID.String(),
		"delta":         payload.Delta,
	})

	key := t.store.StateKey("drift", string(payload.LocationType), payload.LocationID.String(), payload.EquipmentID.String())
	prev, err := t.loadStreak(ctx, key)
	if err != nil {
		return err
	}

	sign := driftSign(payload.Delta)
	next, changed := advance(prev, sign, payload.RunDate)
	if changed {
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode streak: %w", err)
		}
		if err := t.store.Set(ctx, key, string(encoded), t.ttl); err != nil {
			return fmt.Errorf("store streak %s: %w", key, err)
		}
		if next.Count >= t.threshold {
			t.metrics.IncStreakAlert(string(payload.LocationType), sign)
			t.logg.Warn(t.logg.WithField(ctx, "streak_length", next.Count), "snapshot drifting in the same direction across consecutive runs")
		}
	}

	return t.insert(ctx, t.driftTable, driftRow{
		EventID:        env.EventID.String(),
		SnapshotID:     payload.SnapshotID.String(),
		RunDate:        payload.RunDate,
		LocationType:   string(payload.LocationType),
		LocationID:     payload.LocationID.String(),
		EquipmentID:    payload.EquipmentID.String(),
		SnapshotBefore: payload.SnapshotBefore,
		LedgerSum:      payload.LedgerSum,
		Delta:          payload.Delta,
		StreakLength:   next.Count,
		OccurredAt:     env.OccurredAt,
	})
}

func (t *Tracker) handleRun(ctx context.Context, env outbox.Envelope) error {
	var payload payloads.ReconciliationCompleted
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return fmt.Errorf("decode reconciliation payload: %w", err)
	}
	if payload.FailedPairs > 0 {
		t.logg.Warn(t.logg.WithFields(ctx, map[string]any{
			"run_date":     payload.RunDate,
			"failed_pairs": payload.FailedPairs,
		}), "reconciliation run left pairs unreconciled")
	}
	return t.insert(ctx, t.reconciliationTable, reconciliationRow{
		EventID:            env.EventID.String(),
		ReportID:           payload.ReportID.String(),
		RunDate:            payload.RunDate,
		ExecutedBy:         payload.ExecutedBy,
		PairsScanned:       payload.PairsScanned,
		MismatchesFound:    payload.MismatchesFound,
		CorrectionsApplied: payload.CorrectionsApplied,
		FailedPairs:        payload.FailedPairs,
		OccurredAt:         env.OccurredAt,
	})
}

func (t *Tracker) loadStreak(ctx context.Context, key string) (streak, error) {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return streak{}, nil
	}
	if err != nil {
		return streak{}, fmt.Errorf("load streak %s: %w", key, err)
	}
	var s streak
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.logg.Warn(ctx, "discarding unreadable drift streak")
		return streak{}, nil
	}
	return s, nil
}

func (t *Tracker) insert(ctx context.Context, table string, row any) error {
	if t.rows == nil || table == "" {
		return nil
	}
	if err := t.rows.InsertRows(ctx, table, []any{row}); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}
