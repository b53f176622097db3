package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"legalup_payments/internal/models"
)

// PaymentMetrics holds the payment flow counters and histograms
type PaymentMetrics struct {
	OrdersCreatedTotal     *prometheus.CounterVec
	OrdersAmountTotal      *prometheus.CounterVec
	PlatformFeeTotal       *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayDuration        *prometheus.HistogramVec
	OrderErrorsTotal       *prometheus.CounterVec
	NotificationsTotal     *prometheus.CounterVec
}

// NewPaymentMetrics registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PaymentMetrics{
		OrdersCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_orders_created_total",
				Help: "Payment orders recorded in the ledger",
			},
			[]string{"gateway", "currency"},
		),
		OrdersAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_orders_amount_total",
				Help: "Gross amount of recorded payment orders in the smallest currency unit",
			},
			[]string{"currency"},
		),
		PlatformFeeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_platform_fee_total",
				Help: "Platform fee of recorded payment orders in the smallest currency unit",
			},
			[]string{"currency"},
		),
		StatusTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_status_transitions_total",
				Help: "Payment order status transitions",
			},
			[]string{"from", "to"},
		),
		GatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_requests_total",
				Help: "Checkout creation calls by outcome",
			},
			[]string{"gateway", "outcome"},
		),
		GatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Checkout creation latency",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
			},
			[]string{"gateway"},
		),
		OrderErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_order_errors_total",
				Help: "Payment order errors by kind",
			},
			[]string{"error_type"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_notifications_total",
				Help: "Gateway notifications by outcome",
			},
			[]string{"gateway", "outcome"},
		),
	}
}

// RecordOrderCreated counts a newly recorded order
func (m *PaymentMetrics) RecordOrderCreated(order *models.PaymentOrder) {
	if m == nil {
		return
	}
	m.OrdersCreatedTotal.WithLabelValues(string(order.PaymentGateway), order.Currency).Inc()
	m.OrdersAmountTotal.WithLabelValues(order.Currency).Add(float64(order.TotalAmount))
	m.PlatformFeeTotal.WithLabelValues(order.Currency).Add(float64(order.PlatformFee))
}

func (m *PaymentMetrics) RecordGatewayCall(gateway models.PaymentGateway, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.GatewayRequestsTotal.WithLabelValues(string(gateway), outcome).Inc()
	m.GatewayDuration.WithLabelValues(string(gateway)).Observe(time.Since(started).Seconds())
}

func (m *PaymentMetrics) RecordTransition(from, to models.PaymentStatus) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *PaymentMetrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.OrderErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *PaymentMetrics) RecordNotification(gateway models.PaymentGateway, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(string(gateway), outcome).Inc()
}
