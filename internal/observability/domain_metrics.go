package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_llm_requests_total",
			Help: "Total number of completion service calls by outcome.",
		},
		[]string{"outcome"},
	)
	llmCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snowchat_llm_cache_hits_total",
			Help: "Total number of prompts answered from the session completion cache.",
		},
	)
	llmLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snowchat_llm_latency_seconds",
			Help:    "Completion service call latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
	)
	sqlRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_sql_rejections_total",
			Help: "Total number of generated statements rejected by the keyword blocklist.",
		},
		[]string{"keyword"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snowchat_query_duration_seconds",
			Help:    "Warehouse statement execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	schemaDDLFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snowchat_schema_ddl_failures_total",
			Help: "Total number of tables whose DDL could not be fetched during schema snapshots.",
		},
	)
	codeExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_code_executions_total",
			Help: "Total number of sandboxed code executions by status.",
		},
		[]string{"status"},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_turns_total",
			Help: "Total number of finished turns by terminal state.",
		},
		[]string{"state"},
	)
	auditWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snowchat_audit_write_failures_total",
			Help: "Total number of turn audit entries that could not be stored.",
		},
	)
	authRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_auth_rejections_total",
			Help: "Total number of API requests rejected by service credential checks, by reason.",
		},
		[]string{"reason"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snowchat_active_sessions",
			Help: "Current number of open sessions.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		llmRequestsTotal,
		llmCacheHitsTotal,
		llmLatencySeconds,
		sqlRejectionsTotal,
		queryDurationSeconds,
		schemaDDLFailuresTotal,
		codeExecutionsTotal,
		turnsTotal,
		auditWriteFailuresTotal,
		authRejectionsTotal,
		activeSessions,
	)
}

func ObserveLLMRequest(outcome string, elapsed time.Duration) {
	llmRequestsTotal.WithLabelValues(outcome).Inc()
	llmLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementLLMCacheHit() {
	llmCacheHitsTotal.Inc()
}

func IncrementSQLRejection(keyword string) {
	sqlRejectionsTotal.WithLabelValues(keyword).Inc()
}

func ObserveQuery(outcome string, elapsed time.Duration) {
	queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func IncrementSchemaDDLFailure() {
	schemaDDLFailuresTotal.Inc()
}

func IncrementCodeExecution(status string) {
	codeExecutionsTotal.WithLabelValues(status).Inc()
}

func IncrementTurn(state string) {
	turnsTotal.WithLabelValues(state).Inc()
}

func IncrementAuditWriteFailure() {
	auditWriteFailuresTotal.Inc()
}

func IncrementAuthRejection(reason string) {
	authRejectionsTotal.WithLabelValues(reason).Inc()
}

func SetActiveSessions(n int) {
	if n < 0 {
		n = 0
	}
	activeSessions.Set(float64(n))
}
