package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "sessions_created_total",
			Help:      "Total payment sessions created.",
		},
		[]string{"category"},
	)

	checkoutResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "checkout_results_total",
			Help:      "Gateway order submissions by result.",
		},
		[]string{"provider", "result"}, // result: "redirected", "rejected", "unavailable"
	)

	reconcileResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "reconcile_results_total",
			Help:      "Reconciliation attempts by result.",
		},
		[]string{"result"}, // e.g. "succeeded", "declined", "replayed", "verification_pending", "amount_mismatch"
	)

	outcomeDisagreementsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "outcome_disagreements_total",
			Help:      "Reconciliations where the claimed outcome differed from the gateway's answer.",
		},
		[]string{"claimed", "confirmed"},
	)

	creditsGrantedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "credits_granted_total",
			Help:      "Total credits granted to users.",
		},
		[]string{"category"},
	)

	gatewayRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payment",
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of calls to the payment gateway.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	gatewayRetriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "gateway_retries_total",
			Help:      "Gateway calls retried after a transient failure.",
		},
		[]string{"provider", "operation"},
	)

	housekeepingCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payment",
			Name:      "housekeeping_sessions_total",
			Help:      "Sessions touched by housekeeping runs.",
		},
		[]string{"action"}, // "expired", "resolved", "skipped", "repaired", "purged"
	)
)
