package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// LLM 调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "LLM provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "status"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// 运行计数与耗时
	RunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_run_count",
			Help: "Total number of triage runs by final status",
		},
		[]string{"status"}, // completed, failed, superseded
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_run_duration_seconds",
			Help:    "Triage run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
		},
		[]string{"status"},
	)

	// 分类计数
	ClassificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_classification_count",
			Help: "Total number of classifications written",
		},
		[]string{"source", "category"}, // source: llm, fallback, rule
	)

	SecondPassCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_second_pass_count",
			Help: "Emails sent to the second classification pass",
		},
		[]string{"reason"}, // low_confidence, forced_category, missed_deadline
	)

	BatchAttemptCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_batch_attempt_count",
			Help: "Classification batch attempts by outcome",
		},
		[]string{"outcome"}, // success, retry, fallback
	)

	// 邮件同步计数
	EmailFetchedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_email_fetched_count",
			Help: "Total number of emails fetched from mail sources",
		},
		[]string{"provider", "mode"}, // mode: incremental, window
	)

	CircuitStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes",
			Help: "Circuit breaker transitions",
		},
		[]string{"name", "to"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordLLMCallLatency 记录 LLM 调用延迟
func RecordLLMCallLatency(provider, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordRun 记录一次运行结果
func RecordRun(status string, duration time.Duration) {
	RunCount.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// IncrementClassification 增加分类计数
func IncrementClassification(source, category string) {
	ClassificationCount.WithLabelValues(source, category).Inc()
}

func IncrementSecondPass(reason string) {
	SecondPassCount.WithLabelValues(reason).Inc()
}

func IncrementBatchAttempt(outcome string) {
	BatchAttemptCount.WithLabelValues(outcome).Inc()
}

func AddEmailsFetched(provider, mode string, n int) {
	EmailFetchedCount.WithLabelValues(provider, mode).Add(float64(n))
}

func IncrementCircuitStateChange(name, to string) {
	CircuitStateChanges.WithLabelValues(name, to).Inc()
}
