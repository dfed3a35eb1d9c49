package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)

	m.IncConfirmation("webhook", "confirmed")
	m.IncConfirmation("webhook", "confirmed")
	m.IncConfirmation("return", "already_confirmed")
	m.IncDelivery("mismatch")
	m.IncPayout("")
	m.ObserveGateway("retrieve_transaction", errors.New("timeout"), 2*time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "tishop_payment_confirmations_total", "outcome", "confirmed"); err != nil || got != 2 {
		t.Fatalf("expected 2 confirmed, got %v err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "tishop_delivery_confirmations_total", "outcome", "mismatch"); err != nil || got != 1 {
		t.Fatalf("expected 1 mismatch, got %v err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "tishop_payout_requests_total", "outcome", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty outcome to be labelled unknown, got %v err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "tishop_gateway_request_duration_seconds", "result", "error"); err != nil || got != 2 {
		t.Fatalf("expected 2s gateway error sample, got %v err=%v", got, err)
	}
}

func TestNilSettlementMetricsIsNoop(t *testing.T) {
	var m *SettlementMetrics
	m.IncConfirmation("webhook", "confirmed")
	m.IncOutboxPublish("order_paid", "ok")

	empty := NewSettlementMetrics(nil)
	empty.IncDelivery("delivered")
}
