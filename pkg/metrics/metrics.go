package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Host bridge metrics
	HostCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_host_commands_total",
			Help: "Total number of host bridge commands by outcome",
		},
		[]string{"status"},
	)

	HostCommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_host_command_duration_seconds",
			Help:    "Host bridge command round-trip duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	// Scheduler adapter metrics
	SchedulerRefreshesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_scheduler_refreshes_total",
			Help: "Total number of scheduler cache refreshes",
		},
	)

	SchedulerRefreshErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_scheduler_refresh_errors_total",
			Help: "Total number of failed scheduler cache refreshes",
		},
	)

	SchedulerJobsCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbatctld_scheduler_jobs_cached",
			Help: "Number of jobs currently held in the scheduler cache",
		},
	)

	// Benchmark lifecycle metrics
	BenchmarksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_benchmarks_submitted_total",
			Help: "Total number of benchmarks submitted",
		},
	)

	BenchmarksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_benchmarks_finished_total",
			Help: "Total number of benchmarks finished by terminal state",
		},
		[]string{"state"},
	)

	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbatctld_jobs_submitted_total",
			Help: "Total number of scheduler jobs submitted",
		},
	)

	WatchersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbatctld_watchers_active",
			Help: "Number of benchmark watchers currently running",
		},
	)

	// Store gauges updated by the collector
	BenchmarksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xbatctld_benchmarks_total",
			Help: "Total number of benchmarks in the document store by state",
		},
		[]string{"state"},
	)

	JobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbatctld_jobs_total",
			Help: "Total number of job documents in the document store",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_rpc_requests_total",
			Help: "Total number of RPC requests by method and status code",
		},
		[]string{"method", "code"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xbatctld_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Time-series gateway metrics
	QuestQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbatctld_questdb_queries_total",
			Help: "Total number of time-series store queries by outcome",
		},
		[]string{"status"},
	)

	QuestQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xbatctld_questdb_query_duration_seconds",
			Help:    "Time-series store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HostCommandsTotal)
	prometheus.MustRegister(HostCommandDuration)
	prometheus.MustRegister(SchedulerRefreshesTotal)
	prometheus.MustRegister(SchedulerRefreshErrorsTotal)
	prometheus.MustRegister(SchedulerJobsCached)
	prometheus.MustRegister(BenchmarksSubmittedTotal)
	prometheus.MustRegister(BenchmarksFinishedTotal)
	prometheus.MustRegister(JobsSubmittedTotal)
	prometheus.MustRegister(WatchersActive)
	prometheus.MustRegister(BenchmarksTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(QuestQueriesTotal)
	prometheus.MustRegister(QuestQueryDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
