package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tishop/marketplace-backend/pkg/enums"
	pkgerrors "github.com/tishop/marketplace-backend/pkg/errors"
	"github.com/tishop/marketplace-backend/pkg/pagination"
)

type withdrawBody struct {
	Amount string `json:"amount" validate:"required,numeric"`
	Code   string `json:"code" validate:"omitempty,len=6"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"12"}`))
	var body withdrawBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	if details["amount"] != "is required" {
		t.Fatalf("unexpected amount message %q", details["amount"])
	}
	if details["code"] != "must be exactly 6 characters" {
		t.Fatalf("unexpected code message %q", details["code"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10","extra":true}`))
	var body withdrawBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestURLUUID(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := URLUUID(req, "orderId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := URLUUID(req, "sellerOrderId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing param, got %v", err)
	}
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePagination(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Limit != 10 || params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", params)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	params, _ = ParsePagination(req)
	if params.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit, got %d", params.Limit)
	}

	req = httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)
	if _, err := ParsePagination(req); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range error, got %v", err)
	}
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "trims", input: "  txn-123  ", maxLen: 128, want: "txn-123"},
		{name: "drops header injection", input: "txn-123\r\nX-Evil: 1", maxLen: 128, want: "txn-123X-Evil: 1"},
		{name: "cuts on rune boundary", input: "Pétion-Ville", maxLen: 2, want: "Pé"},
		{name: "drops invalid utf8", input: "ord\xffer", maxLen: 0, want: "order"},
		{name: "unbounded", input: "marie@example.com", maxLen: 0, want: "marie@example.com"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeString(tc.input, tc.maxLen); got != tc.want {
				t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestParseSellerOrderStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=+delivered+", nil)
	status, err := ParseSellerOrderStatus(req, "status")
	if err != nil || status == nil || *status != enums.SellerOrderStatusDelivered {
		t.Fatalf("expected delivered filter, got %v (%v)", status, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if status, err := ParseSellerOrderStatus(req, "status"); err != nil || status != nil {
		t.Fatalf("expected no filter, got %v (%v)", status, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?status=returned", nil)
	_, err = ParseSellerOrderStatus(req, "status")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
