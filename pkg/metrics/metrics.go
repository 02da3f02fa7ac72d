package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntakeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_requests_total",
			Help: "Total number of inbound submissions by endpoint and outcome (count)",
		},
		[]string{"endpoint", "status"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of entries pending in a durable queue (count)",
		},
		[]string{"queue"},
	)

	QueueOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total number of queue operations (count)",
		},
		[]string{"queue", "operation", "status"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Total number of delivery attempts by sink and outcome (count)",
		},
		[]string{"sink", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Duration of a single delivery attempt in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"sink", "status"},
	)

	RequeuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requeues_total",
			Help: "Total number of entries pushed back to the tail after a failed delivery (count)",
		},
		[]string{"queue"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of entries moved to a dead-letter queue (count)",
		},
		[]string{"queue", "reason"},
	)

	SMSSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_sent_total",
			Help: "Total number of SMS notifications attempted (count)",
		},
		[]string{"status"},
	)

	SpreadsheetRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spreadsheet_rows_total",
			Help: "Total number of spreadsheet row outcomes (count)",
		},
		[]string{"outcome"},
	)

	UnsubscribesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unsubscribes_total",
			Help: "Total number of unsubscribe requests by outcome (count)",
		},
		[]string{"outcome"},
	)

	WarehouseInlineTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_inline_total",
			Help: "Total number of inline warehouse inserts at intake time (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of in-call retry attempts against downstream APIs (count)",
		},
		[]string{"target"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(IntakeRequestsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueOperationsTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(RequeuesTotal)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(SMSSentTotal)
	prometheus.MustRegister(SpreadsheetRowsTotal)
	prometheus.MustRegister(UnsubscribesTotal)
	prometheus.MustRegister(WarehouseInlineTotal)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func IncIntakeRequest(endpoint, status string) {
	IntakeRequestsTotal.WithLabelValues(endpoint, status).Inc()
}

func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func IncQueueOperation(queue, operation, status string) {
	QueueOperationsTotal.WithLabelValues(queue, operation, status).Inc()
}

func ObserveDelivery(sink, status string, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(sink, status).Inc()
	DeliveryDuration.WithLabelValues(sink, status).Observe(float64(duration.Milliseconds()))
}

func IncRequeue(queue string) {
	RequeuesTotal.WithLabelValues(queue).Inc()
}

func IncDeadLetter(queue, reason string) {
	DeadLettersTotal.WithLabelValues(queue, reason).Inc()
}

func IncSMSSent(status string) {
	SMSSentTotal.WithLabelValues(status).Inc()
}

func IncSpreadsheetRow(outcome string) {
	SpreadsheetRowsTotal.WithLabelValues(outcome).Inc()
}

func IncUnsubscribe(outcome string) {
	UnsubscribesTotal.WithLabelValues(outcome).Inc()
}

func IncWarehouseInline(status string) {
	WarehouseInlineTotal.WithLabelValues(status).Inc()
}

func IncRetryAttempt(target string) {
	RetryAttemptsTotal.WithLabelValues(target).Inc()
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
