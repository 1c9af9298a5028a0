/*
Package slurm adapts the cluster scheduler's command line into a typed,
cached view of jobs, nodes and partitions.

Every scheduler interaction travels through the host bridge as a CLI
invocation (squeue, sinfo, scontrol, sbatch, scancel) with JSON output.
The adapter normalises differences between scheduler releases and shields
the rest of the controller from the cost of repeated CLI round trips.

# Caching

Reads are served from an in-memory cache with a staleness bound of
RefreshTimer. The first read past the bound refreshes the queue and node
views with one squeue and one sinfo/scontrol call; concurrent readers
wait for that refresh instead of issuing their own.

	Jobs()/ActiveJobs()/Nodes()/Partitions()
	     │
	     ├─ fresh ──────────► serve from cache
	     │
	     └─ stale ──► squeue --json --all ──┐
	                  sinfo --json          ├──► merge, evict, serve
	                  (scontrol > v22)    ──┘

Jobs that drop out of the queue view get one final scontrol read to
capture their terminal state, then age out of the cache seven days after
their end time. Submissions and cancellations invalidate the cache so the
next read observes the change.

# Normalisation

Only jobs carrying the xbat feature constraint are surfaced; everything
else on the cluster is invisible to the controller. Numeric fields wrapped
in {"set","number"} objects by newer releases decode transparently, scalar
job states become single-element lists, zero timestamps become nil, and
the %j/%u/%x placeholders in output paths are expanded from the job's own
fields.

In development and demo deployments the adapter serves canned captures of
a v22 cluster instead of calling the host.
*/
package slurm
