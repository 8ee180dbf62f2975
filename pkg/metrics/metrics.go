package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_auth_requests_total",
			Help: "Total number of ingress authentication attempts by outcome (count)",
		},
		[]string{"peer", "result"},
	)

	AuthDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_auth_duration_ms",
			Help:    "Duration of ingress authentication in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"result"},
	)

	AdmissionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_admission_total",
			Help: "Total number of admission rule evaluations by result (count)",
		},
		[]string{"result"},
	)

	AdmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intake_admission_duration_ms",
			Help:    "Duration of admission rule evaluation in milliseconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	EnqueueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_enqueue_total",
			Help: "Total number of enqueue attempts by outcome (count)",
		},
		[]string{"substrate", "result"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intake_queue_depth",
			Help: "Current number of events waiting to be persisted (count)",
		},
		[]string{"substrate"},
	)

	BatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_batch_size",
			Help:    "Number of events per persisted batch (count)",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50, 100},
		},
		[]string{"substrate"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_batch_duration_ms",
			Help:    "Duration of batch persistence in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"substrate", "status"},
	)

	EventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_events_persisted_total",
			Help: "Total number of events committed to storage (count)",
		},
		[]string{"substrate"},
	)

	EventsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_events_failed_total",
			Help: "Total number of events in failed persistence attempts (count)",
		},
		[]string{"substrate"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_dead_lettered_total",
			Help: "Total number of events dead-lettered after exhausting retries (count)",
		},
		[]string{"substrate", "reason"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component"},
	)

	IdempotencyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_idempotency_checks_total",
			Help: "Total number of idempotency checks by outcome (count)",
		},
		[]string{"mode", "result"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"component", "strategy", "reason"},
	)

	SLOBurnActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intake_slo_burn_active",
			Help: "Whether an endpoint is currently burning its latency objective (0/1)",
		},
		[]string{"endpoint", "percentile"},
	)

	SLOBurnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_slo_burn_total",
			Help: "Total number of latency objective burn escalations (count)",
		},
		[]string{"endpoint", "percentile"},
	)

	ShutdownEventsAtRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_shutdown_events_at_risk",
			Help: "Events left undrained when the last shutdown deadline expired (count)",
		},
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

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
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

var (
	registerIngestOnce   sync.Once
	registerBrokerOnce   sync.Once
	registerBreakerOnce  sync.Once
	registerPlatformOnce sync.Once
)

func RegisterIngestMetrics() {
	registerIngestOnce.Do(func() {
		prometheus.MustRegister(AuthRequestsTotal)
		prometheus.MustRegister(AuthDuration)
		prometheus.MustRegister(AdmissionTotal)
		prometheus.MustRegister(AdmissionDuration)
		prometheus.MustRegister(EnqueueTotal)
		prometheus.MustRegister(QueueDepth)
		prometheus.MustRegister(BatchSize)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(EventsPersistedTotal)
		prometheus.MustRegister(EventsFailedTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(IdempotencyChecksTotal)
		prometheus.MustRegister(FallbackUsageTotal)
		prometheus.MustRegister(SLOBurnActive)
		prometheus.MustRegister(SLOBurnTotal)
		prometheus.MustRegister(ShutdownEventsAtRisk)
	})
}

func RegisterBrokerMetrics() {
	registerBrokerOnce.Do(func() {
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	registerBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterPlatformMetrics() {
	registerPlatformOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func ObserveAuth(peer, result string, duration time.Duration) {
	AuthRequestsTotal.WithLabelValues(peer, result).Inc()
	AuthDuration.WithLabelValues(result).Observe(float64(duration.Microseconds()) / 1000)
}

// ObserveAdmission counts one rule evaluation. A zero duration is not observed.
func ObserveAdmission(result string, duration time.Duration) {
	AdmissionTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		AdmissionDuration.Observe(float64(duration.Microseconds()) / 1000)
	}
}

func IncEnqueue(substrate, result string) {
	EnqueueTotal.WithLabelValues(substrate, result).Inc()
}

func SetQueueDepth(substrate string, depth int) {
	QueueDepth.WithLabelValues(substrate).Set(float64(depth))
}

// ObserveBatch records one persistence attempt of size events.
func ObserveBatch(substrate, status string, size int, duration time.Duration) {
	BatchSize.WithLabelValues(substrate).Observe(float64(size))
	BatchDuration.WithLabelValues(substrate, status).Observe(float64(duration.Milliseconds()))
	if status == "success" {
		EventsPersistedTotal.WithLabelValues(substrate).Add(float64(size))
	} else {
		EventsFailedTotal.WithLabelValues(substrate).Add(float64(size))
	}
}

func AddDeadLettered(substrate, reason string, count int) {
	DLQMessagesTotal.WithLabelValues(substrate, reason).Add(float64(count))
}

func IncRetry(component string) {
	RetryAttemptsTotal.WithLabelValues(component).Inc()
}

func IncIdempotencyCheck(mode, result string) {
	IdempotencyChecksTotal.WithLabelValues(mode, result).Inc()
}

func IncFallback(component, strategy, reason string) {
	FallbackUsageTotal.WithLabelValues(component, strategy, reason).Inc()
}

func SetSLOBurn(endpoint, percentile string, burning bool) {
	v := 0.0
	if burning {
		v = 1
	}
	SLOBurnActive.WithLabelValues(endpoint, percentile).Set(v)
}

func IncSLOBurn(endpoint, percentile string) {
	SLOBurnTotal.WithLabelValues(endpoint, percentile).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveDatabaseQuery(database, operation, status string, duration time.Duration) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}
