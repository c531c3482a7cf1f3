package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sqlGenerationAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_sql_generation_attempts_total",
			Help: "Total number of SQL generation attempts against the language model.",
		},
	)
	sqlGenerationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_sql_generation_failures_total",
			Help: "Total number of natural-language queries that exhausted all generation attempts.",
		},
	)
	sqlGenerationRetriesPerQuery = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datapilot_sql_generation_retries_per_query",
			Help:    "Attempts needed per natural-language query before a runnable statement was produced.",
			Buckets: []float64{1, 2, 3, 4},
		},
	)
	targetQueryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datapilot_target_query_duration_seconds",
			Help:    "Statement execution latency against registered target databases.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db_type"},
	)
	targetQueryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datapilot_target_query_rows_returned",
			Help:    "Row counts returned per target database query.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		},
	)
	exportBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datapilot_export_bytes_total",
			Help: "Total bytes of Parquet result exports written to the object store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sqlGenerationAttemptsTotal,
		sqlGenerationFailuresTotal,
		sqlGenerationRetriesPerQuery,
		targetQueryDurationSeconds,
		targetQueryRowsReturned,
		exportBytesTotal,
	)
}

func ObserveGenerationAttempt() {
	sqlGenerationAttemptsTotal.Inc()
}

func ObserveGenerationOutcome(attempts int, failed bool) {
	if failed {
		sqlGenerationFailuresTotal.Inc()
	}
	if attempts > 0 {
		sqlGenerationRetriesPerQuery.Observe(float64(attempts))
	}
}

func ObserveTargetQuery(dbType string, rows int, elapsed time.Duration) {
	targetQueryDurationSeconds.WithLabelValues(dbType).Observe(elapsed.Seconds())
	if rows >= 0 {
		targetQueryRowsReturned.Observe(float64(rows))
	}
}

func ObserveExportBytes(n int64) {
	if n > 0 {
		exportBytesTotal.Add(float64(n))
	}
}
