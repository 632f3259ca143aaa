package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// compilesTotal counts ExecuteGraph calls by outcome: ok, warning or error.
	compilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flicker_engine_compiles_total",
		Help: "Total graph compiles by result",
	}, []string{"result"})

	// compileDuration tracks ExecuteGraph latency.
	compileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flicker_engine_compile_duration_seconds",
		Help:    "Graph compile duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
	})

	// sinksTotal counts output sinks by outcome: attached, blocked or failed.
	sinksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flicker_engine_sinks_total",
		Help: "Output sinks processed by outcome",
	}, []string{"outcome"})

	// issuesTotal counts reported issues by kind and severity.
	issuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flicker_engine_issues_total",
		Help: "Issues reported by kind and severity",
	}, []string{"kind", "severity"})
)
