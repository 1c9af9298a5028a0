package framework

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/megware/xbatctld/pkg/api"
	"github.com/megware/xbatctld/pkg/processing"
	"github.com/megware/xbatctld/pkg/registration"
	"github.com/megware/xbatctld/pkg/submitter"
	"github.com/megware/xbatctld/pkg/types"
)

// SlurmSim is a scripted stand-in for the scheduler adapter. It satisfies
// every scheduler interface the controller consumes; tests drive the queue
// view directly and the components under test observe the transitions.
//
// Like the real adapter, view methods hand out fresh maps pointing at
// immutable job snapshots: a state change replaces the snapshot instead of
// mutating it, so info a watcher captured on an earlier pass stays intact.
type SlurmSim struct {
	mu         sync.Mutex
	nextID     int64
	calls      int
	rejections map[int]string
	jobs       map[int64]*types.SlurmJob
	accepted   []int64
	cancels    [][]int64
	nodes      map[string]types.SlurmNode
	partitions map[string][]string
	now        func() time.Time
}

var (
	_ api.Scheduler          = (*SlurmSim)(nil)
	_ submitter.Scheduler    = (*SlurmSim)(nil)
	_ processing.Scheduler   = (*SlurmSim)(nil)
	_ registration.Scheduler = (*SlurmSim)(nil)
)

// NewSlurmSim creates a simulator whose first accepted submission is
// assigned firstID. The node inventory is a fixed two-node partition.
func NewSlurmSim(firstID int64) *SlurmSim {
	return &SlurmSim{
		nextID:     firstID,
		rejections: make(map[int]string),
		jobs:       make(map[int64]*types.SlurmJob),
		nodes: map[string]types.SlurmNode{
			"n01": {Hostname: "n01", CPUs: 16, Cores: 8, Threads: 2, Sockets: 1,
				State: []string{"IDLE"}, Partitions: []string{"compute"}, RealMemory: 64000},
			"n02": {Hostname: "n02", CPUs: 16, Cores: 8, Threads: 2, Sockets: 1,
				State: []string{"IDLE"}, Partitions: []string{"compute"}, RealMemory: 64000},
		},
		partitions: map[string][]string{"compute": {"n01", "n02"}},
		now:        time.Now,
	}
}

// RejectSubmission makes the nth submission (1-based) fail with msg.
func (s *SlurmSim) RejectSubmission(n int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[n] = msg
}

// Submit assigns the next job id and enqueues a pending job. Ids are
// consumed even for rejected submissions, like a scheduler that admits the
// job and then refuses it.
func (s *SlurmSim) Submit(_ context.Context, username, jobscriptPath, homeDir string,
	configuration map[string]any, variables map[string]string) (int64, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	id := s.nextID
	s.nextID++

	if msg, ok := s.rejections[s.calls]; ok {
		return 0, fmt.Errorf("%s", msg)
	}

	submit := s.now().UTC()
	partition, _ := configuration["partition"].(string)
	s.jobs[id] = &types.SlurmJob{
		JobID:                   id,
		JobState:                []string{"PENDING"},
		Name:                    strings.TrimSuffix(filepath.Base(jobscriptPath), ".sh"),
		UserName:                username,
		Command:                 jobscriptPath,
		CurrentWorkingDirectory: homeDir,
		Partition:               partition,
		Nodes:                   "n01",
		SubmitTime:              &submit,
	}
	s.accepted = append(s.accepted, id)
	return id, nil
}

// Cancel marks the given jobs cancelled, like scancel followed by a queue
// refresh.
func (s *SlurmSim) Cancel(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, append([]int64(nil), ids...))
	for _, id := range ids {
		s.finishLocked(id, "CANCELLED")
	}
	return nil
}

// AddJob places a job into the queue view directly, as squeue would report
// one submitted outside the controller.
func (s *SlurmSim) AddJob(job *types.SlurmJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	if cp.SubmitTime == nil {
		submit := s.now().UTC()
		cp.SubmitTime = &submit
	}
	s.jobs[cp.JobID] = &cp
}

// SetJobState replaces a job's state list. Entering RUNNING stamps the
// start time.
func (s *SlurmSim) SetJobState(id int64, states ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.jobs[id]
	if !ok {
		return
	}
	next := *old
	next.JobState = append([]string(nil), states...)
	for _, state := range states {
		if state == "RUNNING" && next.StartTime == nil {
			start := s.now().UTC()
			next.StartTime = &start
		}
	}
	s.jobs[id] = &next
}

// FinishJob moves one job to a terminal state and stamps its end time.
func (s *SlurmSim) FinishJob(id int64, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(id, state)
}

// FinishAll moves every queued job to the given terminal state.
func (s *SlurmSim) FinishAll(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		s.finishLocked(id, state)
	}
}

// Evict drops a job from the queue view entirely, like squeue forgetting
// a long-finished job.
func (s *SlurmSim) Evict(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *SlurmSim) finishLocked(id int64, state string) {
	old, ok := s.jobs[id]
	if !ok {
		return
	}
	if !old.Active() {
		return
	}
	next := *old
	next.JobState = []string{state}
	end := s.now().UTC()
	if next.StartTime == nil {
		start := end
		if next.SubmitTime != nil {
			start = *next.SubmitTime
		}
		next.StartTime = &start
	}
	next.EndTime = &end
	s.jobs[id] = &next
}

// Jobs returns the full queue view, finished jobs included.
func (s *SlurmSim) Jobs(context.Context) map[int64]*types.SlurmJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := make(map[int64]*types.SlurmJob, len(s.jobs))
	for id, job := range s.jobs {
		view[id] = job
	}
	return view
}

// ActiveJobs returns the jobs that have not reached a terminal state.
func (s *SlurmSim) ActiveJobs(context.Context) map[int64]*types.SlurmJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[int64]*types.SlurmJob)
	for id, job := range s.jobs {
		if job.Active() {
			active[id] = job
		}
	}
	return active
}

// RefreshJob is a no-op; the simulated view is always current.
func (s *SlurmSim) RefreshJob(context.Context, int64) {}

// Nodes returns the fixed node inventory.
func (s *SlurmSim) Nodes(context.Context) map[string]types.SlurmNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := make(map[string]types.SlurmNode, len(s.nodes))
	for hostname, node := range s.nodes {
		view[hostname] = node
	}
	return view
}

// Partitions returns the fixed partition map.
func (s *SlurmSim) Partitions(context.Context) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := make(map[string][]string, len(s.partitions))
	for name, hosts := range s.partitions {
		view[name] = append([]string(nil), hosts...)
	}
	return view
}

// Submissions returns the number of Submit calls, accepted or not.
func (s *SlurmSim) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// AcceptedIDs returns the accepted job ids in submission order.
func (s *SlurmSim) AcceptedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.accepted...)
}

// CancelCalls returns the id lists passed to Cancel, in order.
func (s *SlurmSim) CancelCalls() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([][]int64, len(s.cancels))
	for i, ids := range s.cancels {
		calls[i] = append([]int64(nil), ids...)
	}
	return calls
}
