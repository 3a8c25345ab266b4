package metrics

import (
	"strconv"
	"time"

	"github.com/kpi-project/assetdb/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queryDurationHist       *prometheus.HistogramVec
	queryTotal              *prometheus.CounterVec
	backfillAssetsTotal     *prometheus.CounterVec
	backfillBatchesTotal    prometheus.Counter
	backfillRunDurationHist *prometheus.HistogramVec
	timeSince               = time.Since // for test purposes only
)

const (
	subsystem         = "database"
	backfillSubsystem = "backfill"
	queryNameLabel    = "name"
	errorLabel        = "error"
	statusLabel       = "status"

	queryDurationName = "query_duration_seconds"
	queryDurationDesc = "A histogram of latencies for database queries."

	queryTotalName = "queries_total"
	queryTotalDesc = "A counter for database queries."

	backfillAssetsName = "assets_total"
	backfillAssetsDesc = "A counter of assets written by the deployment status backfill, by status."

	backfillBatchesName = "batches_total"
	backfillBatchesDesc = "A counter of bulk updates issued by the deployment status backfill."

	backfillRunDurationName = "run_duration_seconds"
	backfillRunDurationDesc = "A histogram of durations of deployment status backfill runs."
)

func init() {
	queryDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      queryDurationName,
			Help:      queryDurationDesc,
			Buckets:   prometheus.DefBuckets,
		},
		[]string{queryNameLabel},
	)

	queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: subsystem,
			Name:      queryTotalName,
			Help:      queryTotalDesc,
		},
		[]string{queryNameLabel},
	)

	backfillAssetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: backfillSubsystem,
			Name:      backfillAssetsName,
			Help:      backfillAssetsDesc,
		},
		[]string{statusLabel},
	)

	backfillBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: backfillSubsystem,
			Name:      backfillBatchesName,
			Help:      backfillBatchesDesc,
		},
	)

	backfillRunDurationHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.NamespacePrefix,
			Subsystem: backfillSubsystem,
			Name:      backfillRunDurationName,
			Help:      backfillRunDurationDesc,
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{errorLabel},
	)

	prometheus.MustRegister(queryDurationHist)
	prometheus.MustRegister(queryTotal)
	prometheus.MustRegister(backfillAssetsTotal)
	prometheus.MustRegister(backfillBatchesTotal)
	prometheus.MustRegister(backfillRunDurationHist)
}

// InstrumentQuery returns a function that records the count and duration of
// the named query when called.
func InstrumentQuery(name string) func() {
	start := time.Now()
	return func() {
		queryTotal.WithLabelValues(name).Inc()
		queryDurationHist.WithLabelValues(name).Observe(timeSince(start).Seconds())
	}
}

// BackfilledAssets adds n to the number of assets written with status.
func BackfilledAssets(status string, n int) {
	backfillAssetsTotal.WithLabelValues(status).Add(float64(n))
}

// BackfillBatch increments the number of bulk updates issued by the backfill.
func BackfillBatch() {
	backfillBatchesTotal.Inc()
}

// BackfillRun returns a function that records the duration and outcome of a
// backfill run when called.
func BackfillRun() func(error) {
	start := time.Now()
	return func(err error) {
		failed := strconv.FormatBool(err != nil)
		backfillRunDurationHist.WithLabelValues(failed).Observe(timeSince(start).Seconds())
	}
}
