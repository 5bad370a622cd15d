package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/projectrefill/refill-backend/internal/reconciliation"
)

type fakeReconciler struct {
	input  reconciliation.RunInput
	result *reconciliation.Result
	err    error
}

func (f *fakeReconciler) Run(_ context.Context, input reconciliation.RunInput) (*reconciliation.Result, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &reconciliation.Result{}, nil
	}
	return f.result, nil
}

func TestReconciliationJobUsesLocalCalendarDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	fake := &fakeReconciler{}
	job, err := NewReconciliationJob(ReconciliationJobParams{
		Logger:     testLogger(),
		Reconciler: fake,
		Actor:      "system:reconciliation",
		Location:   loc,
		Now:        func() time.Time { return time.Date(2026, 10, 18, 22, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewReconciliationJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := fake.input.Date.Format(reconciliation.RunDateLayout); got != "2026-10-19" {
		t.Fatalf("expected run date 2026-10-19, got %s", got)
	}
	if fake.input.Actor != "system:reconciliation" {
		t.Fatalf("unexpected actor %q", fake.input.Actor)
	}
}

func TestReconciliationJobFailsOnPairFailures(t *testing.T) {
	fake := &fakeReconciler{result: &reconciliation.Result{
		Failures: []reconciliation.PairFailure{{Error: "lock timeout"}},
		Err:      errors.New("lock timeout"),
	}}
	job, err := NewReconciliationJob(ReconciliationJobParams{Logger: testLogger(), Reconciler: fake, Actor: "system"})
	if err != nil {
		t.Fatalf("NewReconciliationJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected job failure when pairs failed")
	}
}

func TestReconciliationJobPropagatesRunError(t *testing.T) {
	fake := &fakeReconciler{err: errors.New("db down")}
	job, _ := NewReconciliationJob(ReconciliationJobParams{Logger: testLogger(), Reconciler: fake, Actor: "system"})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
