// Package metrics Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 嵌入流水线
	EmbeddingBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_embedding_batches_total",
			Help: "Embedding batches processed, by outcome",
		},
		[]string{"outcome"}, // success | index_error | store_error | canceled
	)

	EmbeddedMovies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_embedded_movies_total",
			Help: "Movies whose vectors were written and flagged as embedded",
		},
	)

	EmbeddingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_embedding_retries_total",
			Help: "Retried vector index writes",
		},
	)

	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "movierec_embedding_run_duration_seconds",
			Help:    "Duration of a full embedding pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// 推荐
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movierec_recommend_requests_total",
			Help: "Recommendation requests, by outcome",
		},
		[]string{"outcome"}, // ok | not_found | invalid | degraded | cached
	)

	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "movierec_recommend_duration_seconds",
			Help:    "Latency of the recommendation resolver",
			Buckets: prometheus.DefBuckets,
		},
	)

	IndexQueryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movierec_index_query_errors_total",
			Help: "Failed nearest neighbour queries, including open circuit rejections",
		},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movierec_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
