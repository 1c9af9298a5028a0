/*
Package log provides structured logging for xbatctld using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

	┌─────────────────── LOGGING SYSTEM ────────────────────┐
	│                                                        │
	│  ┌──────────────────────────────────────────┐         │
	│  │            Global Logger                  │         │
	│  │  - Zerolog instance                       │         │
	│  │  - Initialized via log.Init()             │         │
	│  │  - Thread-safe for concurrent use         │         │
	│  └──────────────────┬───────────────────────┘         │
	│                     │                                  │
	│  ┌──────────────────▼───────────────────────┐         │
	│  │         Component Loggers                 │         │
	│  │  - WithComponent("slurm")                 │         │
	│  │  - WithRunNr(142)                         │         │
	│  │  - WithJobID(9001)                        │         │
	│  │  - WithUser("demo")                       │         │
	│  └──────────────────┬───────────────────────┘         │
	│                     │                                  │
	│  ┌──────────────────▼───────────────────────┐         │
	│  │            Log Output                     │         │
	│  │  JSON (production) or console (dev)       │         │
	│  └──────────────────────────────────────────┘         │
	└────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/megware/xbatctld/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("controller started")
	log.Warn("scheduler cache refresh slow")
	log.Error("failed to connect to document store")

Structured logging:

	log.Logger.Info().
		Int64("run_nr", 142).
		Int("jobs", 3).
		Msg("benchmark submitted")

Component loggers:

	slurmLog := log.WithComponent("slurm")
	slurmLog.Debug().Int64("job_id", 9001).Msg("refreshing job state")

	watcherLog := log.WithComponent("processing").
		With().Int64("run_nr", 142).Logger()
	watcherLog.Info().Msg("watcher started")

# Integration Points

This package integrates with:

  - pkg/hostexec: logs pipe acquisition and command failures
  - pkg/slurm: logs cache refreshes and scheduler errors
  - pkg/processing: logs watcher lifecycle per benchmark
  - pkg/api: logs RPC requests and errors
  - pkg/store, pkg/questdb: log gateway operations

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() rather than formatting them into the message

Don't:
  - Log credentials from the store configuration
  - Use Debug level in production
  - Log inside the host bridge read loop (hot path)
*/
package log
