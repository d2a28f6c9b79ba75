package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of bookings created in PENDING state",
	})

	BookingsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_confirmed_total",
		Help: "Total number of bookings confirmed by a successful payment",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_failed_total",
		Help: "Total number of rejected or cancelled bookings",
	}, []string{"reason"})

	BookingsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_expired_total",
		Help: "Total number of pending bookings expired by the sweeper",
	})

	BookingsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_completed_total",
		Help: "Total number of confirmed bookings completed by the sweeper",
	})

	PromoCodesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_codes_expired_total",
		Help: "Total number of promo codes expired by the sweeper",
	})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of scheduled sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})

	SweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_errors_total",
		Help: "Total number of failed sweeps",
	}, []string{"sweep"})

	BookingCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_create_latency_seconds",
		Help:    "Latency of the availability check and booking insert transaction",
		Buckets: prometheus.DefBuckets,
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of payment webhooks and callbacks by outcome",
	}, []string{"outcome"})

	PaymentsNeedingRefundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_needing_refund_total",
		Help: "Total number of successful payments that arrived for a booking no longer pending",
	})

	PaymentGatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	PaymentGatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_errors_total",
		Help: "Total number of failed payment gateway calls",
	}, []string{"operation"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notification attempts by channel and result",
	}, []string{"channel", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
