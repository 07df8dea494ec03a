package roomposter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "roomposter",
			Name:      "operations_total",
			Help:      "Room operations executed, by operation and outcome.",
		},
		[]string{"operation", "outcome"}, // outcome: success, permission, not_found, invalid_request, server
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hasswebhook",
			Subsystem: "roomposter",
			Name:      "operation_duration_seconds",
			Help:      "Duration of room operations including history resolution.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	lifetimesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "roomposter",
			Name:      "lifetimes_scheduled_total",
			Help:      "Messages scheduled for automatic redaction.",
		},
	)
)
