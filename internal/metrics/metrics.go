// Package metrics holds the prometheus collectors shared by the provider and its transports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SuggestFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisuggest_fetches_total",
			Help: "Remote suggest fetches by outcome",
		},
		[]string{"result"},
	)

	SuggestFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnisuggest_fetch_duration_seconds",
			Help:    "Latency of remote suggest fetches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	StaleCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisuggest_stale_completions_total",
			Help: "Async completions discarded because a newer keystroke superseded them",
		},
		[]string{"source"},
	)

	HistoryQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisuggest_history_queries_total",
			Help: "Local history lookups by outcome",
		},
		[]string{"result"},
	)

	Deletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnisuggest_deletions_total",
			Help: "Suggestion deletion requests by outcome",
		},
		[]string{"result"},
	)

	MatchesServed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omnisuggest_matches_served",
			Help:    "Number of matches in each emitted update",
			Buckets: prometheus.LinearBuckets(0, 1, 12),
		},
	)
)

// Result labels.
const (
	ResultOK        = "ok"
	ResultFailed    = "failed"
	ResultMalformed = "malformed"
	ResultSkipped   = "skipped"
)
