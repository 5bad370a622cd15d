package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeAlreadyConfirmed, status: http.StatusConflict, publicMsg: "event already confirmed", detailsOK: true},
		{code: CodeInsufficientStock, status: http.StatusUnprocessableEntity, publicMsg: "insufficient stock", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeAlreadyConfirmed, "event DIST-20261019-000001 already confirmed")
	if got := As(err); got == nil || got.Code() != CodeAlreadyConfirmed {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	inner := New(CodeInsufficientStock, "not enough cylinders").WithDetails(map[string]any{"available": 3, "required": 5})
	wrapped := fmt.Errorf("confirm event: %w", inner)

	if !IsCode(wrapped, CodeInsufficientStock) {
		t.Fatalf("expected wrapped error to match insufficient stock")
	}
	if IsCode(wrapped, CodeNotFound) {
		t.Fatalf("unexpected not found match")
	}
	if IsCode(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("untyped errors should not match any code")
	}
}

func TestDiagnoseCapturesPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_idempotency_key_key", TableName: "ledger_entries"}
	err := Wrap(CodeConflict, fmt.Errorf("insert ledger entry: %w", pgErr), "duplicate")

	d := Diagnose(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.Constraint != "ledger_entries_idempotency_key_key" {
		t.Fatalf("unexpected pg fields %+v", d)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(d.Chain))
	}
	fields := d.Fields()
	if fields["pg_table"] != "ledger_entries" {
		t.Fatalf("expected pg_table field, got %+v", fields)
	}
}

func TestDiagnoseUntypedErrorIsInternal(t *testing.T) {
	d := Diagnose(stdErrors.New("socket closed"))
	if d.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", d.Code)
	}
	if _, ok := d.Fields()["pg_code"]; ok {
		t.Fatal("empty pg fields should be omitted")
	}
	if Diagnose(nil).Message != "" {
		t.Fatal("expected empty diagnostics for nil")
	}
}

func TestRetryableAndExposure(t *testing.T) {
	if Retryable(New(CodeValidation, "bad")) {
		t.Fatal("validation errors are not retryable")
	}
	if !Retryable(stdErrors.New("timeout")) {
		t.Fatal("untyped errors are treated as retryable internal errors")
	}
	if Retryable(nil) {
		t.Fatal("nil is not retryable")
	}
	if !CodeStateConflict.ExposesMessage() || CodeInternal.ExposesMessage() || CodeDependency.ExposesMessage() {
		t.Fatal("unexpected message exposure")
	}
	if got := Newf(CodeNotFound, "event %s not found", "abc").Message(); got != "event abc not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
