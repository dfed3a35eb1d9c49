package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts the money-moving outcomes of the settlement engine.
type SettlementMetrics struct {
	confirmations *prometheus.CounterVec
	gateway       *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
	payouts       *prometheus.CounterVec
	outbox        *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics. A nil registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tishop_payment_confirmations_total",
			Help: "Payment confirmation attempts by trigger source and outcome.",
		}, []string{"source", "outcome"}),
		gateway: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tishop_gateway_request_duration_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"operation", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tishop_delivery_confirmations_total",
			Help: "Delivery code submissions by outcome.",
		}, []string{"outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tishop_payout_requests_total",
			Help: "Withdrawal requests by outcome.",
		}, []string{"outcome"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tishop_outbox_publish_total",
			Help: "Outbox publish attempts by event type and result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(m.confirmations, m.gateway, m.deliveries, m.payouts, m.outbox)
	return m
}

func (m *SettlementMetrics) IncConfirmation(source, outcome string) {
	if m == nil || m.confirmations == nil {
		return
	}
	m.confirmations.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) ObserveGateway(operation string, err error, duration time.Duration) {
	if m == nil || m.gateway == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), result).Observe(duration.Seconds())
}

func (m *SettlementMetrics) IncDelivery(outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncPayout(outcome string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) IncOutboxPublish(eventType, result string) {
	if m == nil || m.outbox == nil {
		return
	}
	m.outbox.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
