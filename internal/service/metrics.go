package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recipientsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa_broadcast",
			Name:      "recipients_processed_total",
			Help:      "Recipients attempted, by outcome.",
		},
		[]string{"outcome"}, // sent, failed
	)

	fallbackSendsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa_broadcast",
			Name:      "media_fallback_sends_total",
			Help:      "Text-only resends after a failed media send, by outcome.",
		},
		[]string{"outcome"},
	)

	campaignsActivatedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wa_broadcast",
			Name:      "campaigns_activated_total",
			Help:      "Campaigns moved from scheduled to sending.",
		},
	)

	campaignsFinalizedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa_broadcast",
			Name:      "campaigns_finalized_total",
			Help:      "Campaigns finalized, by final status.",
		},
		[]string{"status"},
	)

	invocationDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wa_broadcast",
			Name:      "scheduler_invocation_duration_seconds",
			Help:      "Duration of scheduler invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)

	statusUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wa_broadcast",
			Name:      "delivery_status_updates_total",
			Help:      "Delivery status updates received, by status and whether they changed a recipient.",
		},
		[]string{"status", "applied"},
	)
)
