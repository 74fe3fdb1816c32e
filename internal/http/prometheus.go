package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// guideLookups counts guide reads.
// Labels: result (hit, miss)
var guideLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cirecover",
		Subsystem: "api",
		Name:      "guide_lookups_total",
		Help:      "Total number of guide lookups by result",
	},
	[]string{"result"},
)
