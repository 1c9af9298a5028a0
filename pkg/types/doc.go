/*
Package types defines the shared domain model for xbatctld.

The controller persists four kinds of documents: benchmarks (one user
request), jobs (one scheduler job per permutation), outputs (harvested
stdout/stderr) and node profiles (calibration bookkeeping keyed by hardware
hash). This package holds those records plus the normalised scheduler views
(SlurmJob, SlurmNode) that the scheduler adapter produces and every other
component consumes.

# State Model

A benchmark moves through:

	pending ──► running ──► done | deadline | timeout | cancelled | failed

The terminal state is derived from the scheduler states of all its jobs by
severity:

	COMPLETED < DEADLINE < TIMEOUT < CANCELLED < FAILED

where the most severe observed state wins (MostCriticalState). A benchmark
whose submission or processing raised an error is marked failed with a
FailureReason regardless of job states.

# Document Conventions

Field names follow the persisted camelCase schema shared with the REST
front-end (bson and json tags carry the same names, except the users
collection which uses the directory-service attribute names uidnumber,
gidnumber, homedirectory and user_name). Nullable fields are pointers; the
front-end distinguishes "not yet known" from zero values.

Embedded documents with scheduler-version-dependent shapes (the benchmark's
configuration snapshot and a job's raw variant configuration) stay as
map[string]any and are only interpreted by the permutation expander.
*/
package types
