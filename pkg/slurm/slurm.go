package slurm

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/megware/xbatctld/pkg/hostexec"
	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
	"github.com/megware/xbatctld/pkg/types"
)

const (
	// RefreshTimer bounds cache staleness. Reads within the window are
	// served from memory; the first read past it triggers a refresh.
	RefreshTimer = 30 * time.Second

	// evictAfter is how long finished jobs are retained in the cache.
	evictAfter = 7 * 24 * time.Hour
)

// Canned scheduler captures served in development and demo deployments
// where no real scheduler is reachable.
var (
	//go:embed testdata/squeue.json
	testdataSqueue []byte

	//go:embed testdata/sinfo.json
	testdataSinfo []byte
)

// Client is a stateful adapter around the scheduler's command line. It
// caches the queue, node and partition views and refreshes them through
// the host bridge at most once per RefreshTimer.
//
// Cached job entries are immutable once published; a refresh replaces the
// pointer rather than mutating the struct, so callers may hold returned
// values without copying.
type Client struct {
	exec        hostexec.Executor
	useTestdata bool
	log         zerolog.Logger

	// refreshMu serialises refresh cycles so concurrent readers trigger
	// at most one set of host calls. mu guards the cached views and is
	// never held across a host call.
	refreshMu sync.Mutex
	mu        sync.RWMutex

	lastUpdate time.Time
	jobs       map[int64]*types.SlurmJob
	nodes      map[string]types.SlurmNode
	partitions map[string][]string

	// previouslyRecorded is the set of job ids seen in the last squeue
	// output, used to detect jobs that dropped out of the queue view.
	previouslyRecorded map[int64]struct{}

	version      types.SlurmVersion
	versionKnown bool

	now func() time.Time
}

// NewClient creates a Client and probes the scheduler version once. With
// useTestdata set, canned captures replace host calls and the version is
// pinned to the capture release.
func NewClient(ctx context.Context, exec hostexec.Executor, useTestdata bool) *Client {
	c := &Client{
		exec:               exec,
		useTestdata:        useTestdata,
		log:                log.WithComponent("slurm"),
		jobs:               make(map[int64]*types.SlurmJob),
		nodes:              make(map[string]types.SlurmNode),
		partitions:         make(map[string][]string),
		previouslyRecorded: make(map[int64]struct{}),
		now:                time.Now,
	}
	c.probeVersion(ctx)
	return c
}

// Version returns the scheduler release probed at startup. The zero value
// means the probe failed.
func (c *Client) Version() types.SlurmVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Jobs returns all cached jobs, refreshing the cache when stale.
func (c *Client) Jobs(ctx context.Context) map[int64]*types.SlurmJob {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	jobs := make(map[int64]*types.SlurmJob, len(c.jobs))
	for id, job := range c.jobs {
		jobs[id] = job
	}
	return jobs
}

// ActiveJobs returns the cached jobs that have not reached a terminal
// state. The queue view retains finished jobs for a while, so presence
// alone does not imply activity.
func (c *Client) ActiveJobs(ctx context.Context) map[int64]*types.SlurmJob {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	active := make(map[int64]*types.SlurmJob)
	for id, job := range c.jobs {
		if job.Active() {
			active[id] = job
		}
	}
	return active
}

// Nodes returns all cluster nodes, refreshing the cache when stale.
func (c *Client) Nodes(ctx context.Context) map[string]types.SlurmNode {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make(map[string]types.SlurmNode, len(c.nodes))
	for hostname, node := range c.nodes {
		nodes[hostname] = node
	}
	return nodes
}

// Partitions returns the partition membership map, refreshing the cache
// when stale.
func (c *Client) Partitions(ctx context.Context) map[string][]string {
	c.refreshIfStale(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	partitions := make(map[string][]string, len(c.partitions))
	for name, hosts := range c.partitions {
		partitions[name] = append([]string(nil), hosts...)
	}
	return partitions
}

// Invalidate discards the staleness window so the next read refreshes.
// Called after submissions and cancellations to avoid serving stale queue
// state.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = time.Time{}
}

// RefreshJob force-refreshes a single job through scontrol. Used after a
// job drops out of the queue view, whose last record may be incomplete.
func (c *Client) RefreshJob(ctx context.Context, jobID int64) {
	if c.useTestdata {
		return
	}

	code, output := c.exec.Execute(ctx, fmt.Sprintf("scontrol show job %d --json", jobID))
	if code != 0 {
		c.log.Error().Int("code", code).Int64("job_id", jobID).Str("output", output).
			Msg("Error calling scontrol show job")
		return
	}

	var envelope queueEnvelope
	if err := json.Unmarshal([]byte(orEmpty(output)), &envelope); err != nil {
		c.log.Error().Err(err).Int64("job_id", jobID).Msg("Failed to parse scontrol output")
		return
	}
	if len(envelope.Jobs) == 0 {
		return
	}

	job := parseJob(envelope.Jobs[0])
	if job == nil {
		return
	}

	c.mu.Lock()
	c.jobs[jobID] = job
	c.mu.Unlock()
}

// refreshIfStale refreshes the cached views when the staleness bound has
// passed. refreshMu makes concurrent callers wait for one refresh instead
// of issuing their own.
func (c *Client) refreshIfStale(ctx context.Context) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	stale := c.lastUpdate.IsZero() || c.now().Sub(c.lastUpdate) >= RefreshTimer
	c.mu.RUnlock()
	if !stale {
		return
	}

	c.log.Debug().Msg("Refreshing scheduler data")
	metrics.SchedulerRefreshesTotal.Inc()

	c.refreshQueue(ctx)
	c.refreshNodes(ctx)

	c.mu.Lock()
	c.lastUpdate = c.now()
	metrics.SchedulerJobsCached.Set(float64(len(c.jobs)))
	c.mu.Unlock()
}

// refreshQueue merges the current squeue output into the job cache,
// re-reads jobs that dropped out of the queue view and ages out jobs that
// ended more than evictAfter ago.
func (c *Client) refreshQueue(ctx context.Context) {
	var output string
	if c.useTestdata {
		output = string(testdataSqueue)
	} else {
		code, body := c.exec.Execute(ctx, "squeue --json --all")
		if code != 0 {
			c.log.Error().Int("code", code).Str("output", body).Msg("Error calling squeue")
			metrics.SchedulerRefreshErrorsTotal.Inc()
			body = ""
		}
		output = body
	}

	var envelope queueEnvelope
	if err := json.Unmarshal([]byte(orEmpty(output)), &envelope); err != nil {
		c.log.Error().Err(err).Msg("Failed to parse squeue output")
		metrics.SchedulerRefreshErrorsTotal.Inc()
		return
	}
	if envelope.Jobs == nil {
		return
	}

	recorded := make(map[int64]struct{}, len(envelope.Jobs))
	parsed := make(map[int64]*types.SlurmJob, len(envelope.Jobs))
	for _, raw := range envelope.Jobs {
		job := parseJob(raw)
		if job == nil {
			continue
		}
		parsed[job.JobID] = job
		recorded[job.JobID] = struct{}{}
	}

	var dropped []int64
	c.mu.Lock()
	for id, job := range parsed {
		c.jobs[id] = job
	}
	for id := range c.previouslyRecorded {
		if _, ok := recorded[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	c.previouslyRecorded = recorded
	c.mu.Unlock()

	if c.useTestdata {
		return
	}

	// Jobs no longer in squeue get one final scontrol read; their last
	// queue record may predate their terminal state.
	for _, id := range dropped {
		c.RefreshJob(ctx, id)
	}

	maxAge := c.now().Add(-evictAfter)
	c.mu.Lock()
	for id, job := range c.jobs {
		if job.EndTime != nil && job.EndTime.Before(maxAge) {
			delete(c.jobs, id)
		}
	}
	c.mu.Unlock()
}

// refreshNodes re-reads the node and partition views. Scheduler releases
// after v22 changed the sinfo JSON layout, so newer clusters are queried
// through scontrol instead.
func (c *Client) refreshNodes(ctx context.Context) {
	var output string
	if c.useTestdata {
		output = string(testdataSinfo)
	} else {
		if !c.versionKnown {
			return
		}
		command := "sinfo --json"
		if c.version.Major > 22 {
			command = "scontrol show nodes --json"
		}
		code, body := c.exec.Execute(ctx, command)
		if code != 0 {
			c.log.Error().Int("code", code).Str("output", body).Msg("Error calling sinfo")
			metrics.SchedulerRefreshErrorsTotal.Inc()
			body = ""
		}
		output = body
	}

	var envelope nodesEnvelope
	if err := json.Unmarshal([]byte(orEmpty(output)), &envelope); err != nil {
		c.log.Error().Err(err).Msg("Failed to parse sinfo output")
		metrics.SchedulerRefreshErrorsTotal.Inc()
		return
	}
	if envelope.Nodes == nil {
		return
	}

	nodes, partitions := parseNodes(envelope.Nodes)

	c.mu.Lock()
	c.nodes = nodes
	c.partitions = partitions
	c.mu.Unlock()
}

// probeVersion detects the scheduler release from sinfo metadata.
func (c *Client) probeVersion(ctx context.Context) {
	if c.useTestdata {
		c.version = types.SlurmVersion{Major: 22, Minor: 5, Micro: 6}
		c.versionKnown = true
		return
	}

	code, output := c.exec.Execute(ctx, "sinfo --json")
	if code != 0 {
		c.log.Error().Int("code", code).Str("output", output).Msg("Error calling sinfo")
		return
	}

	var envelope nodesEnvelope
	if err := json.Unmarshal([]byte(orEmpty(output)), &envelope); err != nil {
		c.log.Error().Err(err).Msg("Failed to parse sinfo output")
		return
	}

	version := envelope.Meta.version()
	if version == (types.SlurmVersion{}) {
		c.log.Error().Msg("Could not determine scheduler version")
		return
	}

	c.version = version
	c.versionKnown = true
	c.log.Info().
		Int("major", version.Major).Int("minor", version.Minor).Int("micro", version.Micro).
		Msg("Detected scheduler version")
}

// orEmpty turns an empty reply into an empty JSON object so parsing
// degrades to "no data" instead of an error.
func orEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
