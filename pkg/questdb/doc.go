/*
Package questdb is the gateway to the time-series store holding the
per-job telemetry written by the node agents.

The store speaks the Postgres wire protocol, so access goes through a pgx
connection pool. The gateway itself is deliberately thin: it fans query
batches out under a bounded semaphore and hands rows back as column-keyed
maps. A failed query is logged and yields an empty result; readers are
written to handle missing data, not errors.

Two administrative operations live here as well:

  - Maintenance runs once at startup. Metric tables are auto-created by the
    ingestion protocol without indexes, so it adds the missing ones on the
    jobId, node and level symbol columns, and resumes any write-ahead log
    left suspended by a crash or a full disk.

  - Purge reconciles the store against the document store. The server has
    no row-level DELETE, so each table still holding rows of deleted jobs
    is rebuilt into a _backup table without them, then swapped in via
    DROP + RENAME. At most three tables rebuild concurrently, and a
    non-blocking lock turns overlapping purge requests into no-ops.
*/
package questdb
