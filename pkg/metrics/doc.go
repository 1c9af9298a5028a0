/*
Package metrics provides Prometheus metrics collection and exposition for
xbatctld.

The metrics package defines and registers all xbatctld metrics using the
Prometheus client library, providing observability into benchmark throughput,
scheduler cache health, host command execution, RPC latency, and QuestDB query
performance. Metrics are exposed via an HTTP endpoint for scraping by
Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                             │           │
	│  │  Host bridge: commands, duration           │           │
	│  │  Scheduler: refreshes, errors, cache size  │           │
	│  │  Benchmarks: submitted, finished by state  │           │
	│  │  Watchers: active processing loops         │           │
	│  │  RPC: request count, duration by method    │           │
	│  │  QuestDB: queries, duration                │           │
	│  │  Totals: benchmarks/jobs in the store      │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │          HTTP Metrics Endpoint             │           │
	│  │  - Path: /metrics                          │           │
	│  │  - Format: Prometheus text exposition      │           │
	│  │  - Handler: promhttp.Handler()             │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Metric Definitions: Package-level metric variables registered at init time.
Counters track monotonic totals (benchmarks submitted, host commands executed),
gauges track instant values (cached Slurm jobs, active watchers) and
histograms track latency distributions (host command duration, RPC request
duration, QuestDB query duration).

Collector: Periodically samples aggregate store counts (benchmarks by state,
total jobs) and publishes them as gauges. The collector reads through the
Source interface so the store package never imports metrics.

Health Checker: Tracks component health (mongodb, scheduler, rpc) and serves
/health, /ready and /live endpoints for orchestrator probes. Readiness
requires every critical component to be registered and healthy.

Timer: Convenience wrapper for observing operation durations into histograms.

# Usage

Recording metrics:

	metrics.BenchmarksSubmittedTotal.Inc()
	metrics.SchedulerJobsCached.Set(float64(len(jobs)))
	metrics.RPCRequestDuration.WithLabelValues("SubmitBenchmark").Observe(elapsed.Seconds())

Timing an operation:

	timer := metrics.NewTimer()
	runQuery()
	timer.ObserveDuration(metrics.QuestQueryDuration)

Serving the endpoint:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler)
	mux.HandleFunc("/ready", metrics.ReadyHandler)

Starting the collector:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

# Integration Points

The metrics package is imported throughout xbatctld:

  - pkg/hostexec: command counts and durations
  - pkg/slurm: refresh counts, errors, cache size
  - pkg/submitter: benchmarks and jobs submitted
  - pkg/processing: active watchers, finished benchmarks by state
  - pkg/api: RPC request counts and durations
  - pkg/questdb: query counts and durations
  - cmd/xbatctld: endpoint wiring and collector lifecycle

# Metric Naming

All metrics follow Prometheus naming conventions with the xbatctld_ prefix,
snake_case names and unit suffixes (_total for counters, _seconds for
durations).
*/
package metrics
