package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetrouter_rate_lookups_total",
			Help: "Rate lookups by cache outcome",
		},
		[]string{"result"},
	)

	RateFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assetrouter_rate_fetch_duration_seconds",
			Help:    "Duration of rate computations against the upstream source",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"derivation"},
	)

	RateFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetrouter_rate_fetch_errors_total",
			Help: "Rate computations that failed",
		},
	)

	RouteSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetrouter_route_searches_total",
			Help: "Route searches by outcome",
		},
		[]string{"outcome"},
	)

	RouteCandidatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetrouter_route_candidates_dropped_total",
			Help: "Candidate assets excluded because their rate could not be fetched in time",
		},
	)

	BridgeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetrouter_bridge_transitions_total",
			Help: "Bridge status transitions",
		},
		[]string{"bridge_type", "status"},
	)

	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetrouter_snapshot_duration_seconds",
			Help:    "Duration of unified balance snapshots",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5},
		},
	)

	KafkaPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assetrouter_kafka_publish_errors_total",
			Help: "Bridge events that could not be published",
		},
	)
)
