package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	historyPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "resolver",
			Name:      "history_pages_total",
			Help:      "Room history pages fetched while resolving identifiers.",
		},
		[]string{"direction"},
	)

	decryptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "resolver",
			Name:      "decrypt_failures_total",
			Help:      "History events skipped because they could not be decrypted.",
		},
	)

	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hasswebhook",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Identifier resolutions by mode and outcome.",
		},
		[]string{"mode", "outcome"}, // mode: direct, scan; outcome: found, not_found, error
	)
)
