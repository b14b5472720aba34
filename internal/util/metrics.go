package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_orders_created_total",
		Help: "Total number of checkouts that created subscriptions",
	}, []string{"payment_method"})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_orders_rejected_total",
		Help: "Total number of checkouts rejected before any row was written",
	}, []string{"reason"})

	SubscriptionsReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_subscriptions_reconciled_total",
		Help: "Total number of subscription rows moved to a terminal status",
	}, []string{"status"})

	ReconciliationNoopTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_reconciliation_noop_total",
		Help: "Reconciliations of references that were already terminal",
	})

	ReconciliationAnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_reconciliation_anomalies_total",
		Help: "Repeat reconciliations whose gateway outcome disagreed with the stored one",
	})

	ReconciliationInconclusiveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_reconciliation_inconclusive_total",
		Help: "Verifications left pending because the charge was still in flight",
	}, []string{"gateway_status"})

	AmountMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_amount_mismatch_total",
		Help: "Verifications where the reported amount differed from the expected amount",
	})

	PaystackRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_paystack_request_duration_seconds",
		Help:    "Latency of Paystack API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "outcome"})

	SweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_sweeper_runs_total",
		Help: "Total number of stale-pending sweeps",
	})

	SweeperReferencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sweeper_references_total",
		Help: "References processed by the stale-pending sweeper",
	}, []string{"result"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_notifications_total",
		Help: "Payment notification emails by result",
	}, []string{"result"})

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
