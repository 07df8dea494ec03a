package expiry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "expiry",
			Name:      "sweeps_total",
			Help:      "Expiry sweeps started.",
		},
	)

	sweepFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "expiry",
			Name:      "sweep_faults_total",
			Help:      "Expiry sweeps that failed or panicked.",
		},
	)

	expirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "expiry",
			Name:      "expirations_total",
			Help:      "Lifetime records processed, by outcome.",
		},
		[]string{"outcome"}, // triggered, redacted, failed, remove_failed, fault
	)
)
