package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "pipeline",
			Name:      "scans_total",
			Help:      "Total number of wine list scans by outcome",
		},
		[]string{"status", "stage"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "winescan",
			Subsystem: "pipeline",
			Name:      "scan_duration_seconds",
			Help:      "Duration of wine list scans in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "pipeline",
			Name:      "match_outcomes_total",
			Help:      "Wine list items by final match source",
		},
		[]string{"source"},
	)

	FallbackOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "fallback",
			Name:      "queries_total",
			Help:      "Web-search fallback queries by outcome",
		},
		[]string{"outcome"},
	)

	HTTPClientRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPClientDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "winescan",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM calls by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "winescan",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Price cache lookups by result",
		},
		[]string{"result"},
	)
)
