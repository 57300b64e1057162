package prometheus

import "github.com/prometheus/client_golang/prometheus"

const namespace = "herald"

const (
	jobDurationBucketStart  = 0.05
	jobDurationBucketFactor = 2.0
	jobDurationBucketCount  = 12
)

const (
	kafkaLatencyBucketStart  = 0.01
	kafkaLatencyBucketFactor = 2.5
	kafkaLatencyBucketCount  = 15
)

const (
	minioBucketStart  = 0.05
	minioBucketFactor = 2
	minioBucketCount  = 10
)

var ProcessJobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "process_job_duration_seconds",
		Help:      "Time taken to process a delivery job",
		Buckets: prometheus.ExponentialBuckets(
			jobDurationBucketStart,
			jobDurationBucketFactor,
			jobDurationBucketCount,
		),
	},
	[]string{"channel"},
)

var KafkaMessageLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "kafka_message_latency_seconds",
		Help:      "Time taken from job enqueue to consumption",
		Buckets: prometheus.ExponentialBuckets(
			kafkaLatencyBucketStart,
			kafkaLatencyBucketFactor,
			kafkaLatencyBucketCount,
		),
	},
	[]string{"channel"},
)

var SendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "message_send_duration_seconds",
		Help:      "Message send duration in seconds, including intra-provider retries",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
	},
	[]string{"channel", "provider"},
)

var MinioOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "minio_operation_duration_seconds",
		Help:      "Time taken by archive export object storage operations",
		Buckets: prometheus.ExponentialBuckets(
			minioBucketStart,
			minioBucketFactor,
			minioBucketCount,
		),
	},
	[]string{"operation"},
)

var QueueJobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "queue_jobs_active",
	Help:      "Number of jobs currently being processed",
})

var QueueJobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "queue_jobs_completed_total",
	Help:      "Total number of completed jobs",
})

var QueueJobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "queue_jobs_failed_total",
	Help:      "Total number of failed jobs",
})

var DLQSize = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "dlq_messages_count",
	Help:      "Number of messages in dead letter queue",
})

var CircuitBreakerStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_status",
		Help:      "Circuit breaker status (0=closed, 1=open, 2=half-open)",
	},
	[]string{"provider"},
)

var PipelineHealth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipeline_operational",
		Help:      "Persisted pipeline operational flag (1=operational)",
	},
	[]string{"channel", "provider"},
)

var ProviderHealthy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provider_healthy",
		Help:      "Result of the last provider health probe (1=healthy)",
	},
	[]string{"provider"},
)

var SMSBalance = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sms_balance",
		Help:      "Last known SMS provider balance",
	},
	[]string{"provider"},
)

var RateLimitHits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_hits_total",
		Help:      "Requests rejected by the daily product quota",
	},
	[]string{"product"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of API requests",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

func init() {
	prometheus.MustRegister(ProcessJobDuration)
	prometheus.MustRegister(KafkaMessageLatency)
	prometheus.MustRegister(SendDuration)
	prometheus.MustRegister(MinioOperationDuration)
	prometheus.MustRegister(QueueJobsActive)
	prometheus.MustRegister(QueueJobsCompleted)
	prometheus.MustRegister(QueueJobsFailed)
	prometheus.MustRegister(DLQSize)
	prometheus.MustRegister(CircuitBreakerStatus)
	prometheus.MustRegister(PipelineHealth)
	prometheus.MustRegister(ProviderHealthy)
	prometheus.MustRegister(SMSBalance)
	prometheus.MustRegister(RateLimitHits)
	prometheus.MustRegister(HTTPRequestDuration)
}
