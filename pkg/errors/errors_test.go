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
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeVerification, status: http.StatusPaymentRequired, publicMsg: "payment could not be verified", retryable: true, detailsOK: true},
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

func TestWrapKeepsSentinelReachable(t *testing.T) {
	sentinel := stdErrors.New("order not found")
	wrapped := Wrap(CodeNotFound, sentinel, "order not found")

	outer := fmt.Errorf("confirm payment: %w", wrapped)
	if !stdErrors.Is(outer, sentinel) {
		t.Fatal("sentinel should be reachable through the typed error")
	}
	if !IsCode(outer, CodeNotFound) {
		t.Fatal("expected IsCode to find the typed error")
	}
	if IsCode(outer, CodeConflict) {
		t.Fatal("IsCode matched the wrong code")
	}
}

func TestErrorDetails(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}
	base.WithDetails(map[string]any{"field": "foo"})
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}
	if base.Error() != "VALIDATION_ERROR: missing foo" {
		t.Fatalf("unexpected error string %q", base.Error())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
	if As(stdErrors.New("plain")) != nil {
		t.Fatalf("As should ignore untyped errors")
	}
}

func TestDiagnoseCollectsChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(CodeDependency, stdErrors.New("dial tcp"), "load order"))
	d := Diagnose(err)
	if d.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", d.Code)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d: %v", len(d.Chain), d.Chain)
	}
	fields := d.Fields()
	if _, ok := fields["sql_state"]; ok {
		t.Fatalf("expected no database fields, got %v", fields)
	}
}

func TestDiagnoseReportsReusedTransaction(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_orders_transaction_id",
		TableName:      "orders",
		Detail:         "Key (transaction_id)=(txn-1) already exists.",
	}
	d := Diagnose(Wrap(CodeStateConflict, fmt.Errorf("mark order paid: %w", pgErr), "transaction already settled another order"))

	fields := d.Fields()
	if fields["sql_state"] != "23505" || fields["db_constraint"] != "ux_orders_transaction_id" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if fields["db_detail"] != pgErr.Detail {
		t.Fatalf("expected key detail, got %v", fields["db_detail"])
	}
}

func TestDiagnoseRedactsDeliveryCodeDetail(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_seller_orders_order_delivery_code",
		Detail:         "Key (order_id, delivery_code)=(7e3a2b10-4c5d-4e6f-8a9b-1c2d3e4f5a01, 482913) already exists.",
	}
	d := Diagnose(fmt.Errorf("issue codes: %w", pgErr))
	if d.Detail != "" {
		t.Fatalf("expected redacted detail, got %q", d.Detail)
	}
	if _, ok := d.Fields()["db_detail"]; ok {
		t.Fatal("delivery code detail must not reach the log")
	}
}

func TestDiagnoseReadsSQLiteUniqueFailure(t *testing.T) {
	d := Diagnose(stdErrors.New("UNIQUE constraint failed: orders.transaction_id"))
	if d.Constraint != "orders.transaction_id" || d.Table != "orders" {
		t.Fatalf("unexpected diagnostic %+v", d)
	}
}
