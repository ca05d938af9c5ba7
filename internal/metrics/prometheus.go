package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantbot_ingestion_runs_total",
			Help: "Total ingestion runs started",
		},
		[]string{"status"},
	)

	IngestionRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantbot_ingestion_run_duration_seconds",
			Help:    "End-to-end ingestion run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	SourcesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantbot_sources_processed_total",
			Help: "Total data sources processed",
		},
		[]string{"type", "status"},
	)

	StageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantbot_stage_errors_total",
			Help: "Pipeline stage failures",
		},
		[]string{"stage"},
	)

	ChunksStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantbot_chunks_stored_total",
			Help: "Total chunks written to the vector index",
		},
	)

	PagesCrawled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantbot_pages_crawled_total",
			Help: "Total pages fetched by the crawler",
		},
	)

	ChatQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantbot_chat_query_duration_seconds",
			Help:    "Chat query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	ChatQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantbot_chat_queries_total",
			Help: "Total chat queries answered",
		},
		[]string{"grounded"},
	)

	RetrievedResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantbot_retrieved_results_count",
			Help:    "Number of relevant chunks per query after thresholding",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantbot_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

func Init() {
	prometheus.MustRegister(IngestionRunsTotal)
	prometheus.MustRegister(IngestionRunDuration)
	prometheus.MustRegister(SourcesProcessed)
	prometheus.MustRegister(StageErrors)
	prometheus.MustRegister(ChunksStored)
	prometheus.MustRegister(PagesCrawled)
	prometheus.MustRegister(ChatQueryDuration)
	prometheus.MustRegister(ChatQueriesTotal)
	prometheus.MustRegister(RetrievedResultsCount)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
