// Package observability exposes Prometheus metrics for the engine.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Latency of backing store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	partitionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partitions_created_total",
			Help: "Number of physical partitions created and indexed.",
		},
	)

	partitionCreateFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partition_create_failures_total",
			Help: "Number of failed partition create or index builds.",
		},
	)

	ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Ingested rows by outcome.",
		},
		[]string{"outcome"},
	)

	routeTiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "route_candidate_tiles",
			Help:    "Candidate tile count per routed query window.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	queryScanSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "query_partition_scan_seconds",
			Help:    "Latency of per-partition intersection scans.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"outcome"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka ingest consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeOpSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func IncPartitionCreated()      { partitionsCreatedTotal.Inc() }
func IncPartitionCreateFailed() { partitionCreateFailures.Inc() }

// Ingest outcomes: "assigned", "fallback", "failed".
func IncIngest(outcome string) { ingestTotal.WithLabelValues(outcome).Inc() }

func ObserveRouteTiles(n int) { routeTiles.Observe(float64(n)) }

func ObserveScan(err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queryScanSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
