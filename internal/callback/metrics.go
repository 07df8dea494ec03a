package callback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hasswebhook",
		Subsystem: "callback",
		Name:      "deliveries_total",
		Help:      "Callback deliveries, by outcome.",
	},
	[]string{"outcome"},
)
