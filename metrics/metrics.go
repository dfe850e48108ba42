// Package metrics exposes Prometheus instruments for the orchestration and
// retrieval pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrchestrationsTotal counts finished orchestrations by outcome:
	// answered, fallback, clarification, refused, no_catalog, error.
	OrchestrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasrag_orchestrations_total",
		Help: "Finished orchestrations by outcome.",
	}, []string{"outcome"})

	// PlannerCallsTotal counts planner LLM invocations by result.
	PlannerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasrag_planner_calls_total",
		Help: "Planner LLM calls by result (ok, invalid).",
	}, []string{"result"})

	// FallbackPlansTotal counts heuristic fallback activations.
	FallbackPlansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasrag_fallback_plans_total",
		Help: "Heuristic fallback planner activations.",
	})

	// ExecutedQueriesTotal counts queries run against target databases.
	ExecutedQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasrag_executed_queries_total",
		Help: "Queries executed against target databases.",
	})

	// ValidatorRejectionsTotal counts SQL safety rejections.
	ValidatorRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasrag_validator_rejections_total",
		Help: "Candidate statements rejected by the SQL validator.",
	})

	// OrchestrationDuration observes end-to-end orchestration latency.
	OrchestrationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlasrag_orchestration_duration_seconds",
		Help:    "End-to-end orchestration latency.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// EngineCacheEventsTotal counts engine-cache traffic by event:
	// hit, miss, evict.
	EngineCacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlasrag_engine_cache_events_total",
		Help: "Engine cache traffic by event (hit, miss, evict).",
	}, []string{"event"})

	// LLMRequestDuration observes single LLM HTTP call latency by provider.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlasrag_llm_request_duration_seconds",
		Help:    "LLM HTTP request latency.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"provider"})

	// VectorSearchesTotal counts vector retrievals.
	VectorSearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasrag_vector_searches_total",
		Help: "Vector similarity searches.",
	})

	// ReindexedItemsTotal counts embedding documents rewritten by reindex
	// passes.
	ReindexedItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlasrag_reindexed_items_total",
		Help: "Embedding documents rewritten by reindex passes.",
	})
)
