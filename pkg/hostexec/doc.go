/*
Package hostexec implements the host bridge: a pool of named FIFOs through
which the containerised controller executes commands on the host system.

The controller runs isolated from the host and has no direct access to the
cluster scheduler CLI or the user database. A watcher process on the host
side pre-creates a fixed number of request FIFOs, reads command frames from
them, executes each command, and writes three result files per request back
into the same directory.

# Protocol

	┌──────────── CONTAINER ────────────┐     ┌──────── HOST ────────┐
	│                                   │     │                      │
	│  Pool.Execute(ctx, cmdline)       │     │   host watcher       │
	│     │                             │     │      │               │
	│     ├─ acquire FIFO (semaphore)   │     │      │               │
	│     ├─ write "<uuid>;<cmdline>\n" ├──►  ├── read frame        │
	│     ├─ release FIFO               │     │      ├─ run command  │
	│     │                             │     │      └─ write:       │
	│     └─ poll for <uuid>_ret   ◄────┤─────┤   <uuid>_stdout      │
	│         read result files         │     │   <uuid>_stderr      │
	│         delete result files       │     │   <uuid>_ret         │
	│                                   │     │                      │
	└───────────────────────────────────┘     └──────────────────────┘

Request FIFOs match host-pipe-xbatctld-<n> and are discovered once at
startup. The _ret file carries the decimal exit code; Execute returns
stdout for exit code 0 and stderr otherwise.

# Concurrency

At most Size() commands are in flight at any time. Callers beyond that
block on a weighted semaphore; when the acquisition timeout (15s) expires
the call fails with (-1, "") and no slot is leaked. The FIFO itself is only
held for the duration of the frame write, so slow commands do not starve
the pool beyond their semaphore slot.

# Failure Semantics

Every transport failure (no free FIFO, no host watcher attached, missing
result file) is reported as (-1, "") and logged. Commands are never retried
here: the scheduler adapter retries naturally on its next cache refresh,
and one-shot callers surface the failure to their own caller.
*/
package hostexec
