/*
Package api implements the controller's RPC service and the HTTP
observability endpoints.

The RPC server is the only write path into the system: the web backend
submits and cancels benchmarks through it, and the node agent running inside
each job calls RegisterJob when the job starts on a node.

	            ┌───────────────────────────────────────────┐
	 backend ──►│ SubmitBenchmark  ─ snapshot config,       │
	            │                    create benchmark,      │──► submitter
	            │                    respond run number     │    (async)
	            │ CancelJobs       ─ scancel via scheduler  │
	            │ GetJobs/GetNodes/GetPartitions ─ cache    │
	            │ GetUserInfo      ─ host account lookup    │
	            │ PurgeQuestDB     ─ respond, purge async   │──► time-series
	            ├───────────────────────────────────────────┤    store
	 node ─────►│ RegisterJob      ─ record node, decide    │
	 agent      │                    calibration, return    │
	            │                    monitoring settings    │
	            └───────────────────────────────────────────┘

SubmitBenchmark and PurgeQuestDB answer before their real work happens; the
asynchronous part runs on the daemon context so a client hanging up cannot
abort a submission half-way. Errors after the response are recorded on the
benchmark document (failureReason) or logged.

The HealthServer exposes /health, /ready, /live and /metrics on the metrics
listener. Readiness requires the critical components (document store,
scheduler, RPC) to report healthy.
*/
package api
