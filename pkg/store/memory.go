package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/megware/xbatctld/pkg/types"
)

// Memory implements Store with in-process maps. It backs unit tests and
// the demo deployment, where no document store is provisioned. A single
// mutex replaces the file locks of the Mongo implementation; the memory
// store never spans processes.
type Memory struct {
	mu             sync.RWMutex
	lastRun        int64
	benchmarks     map[int64]*types.Benchmark
	jobs           map[int64]*types.Job
	outputs        map[int64]*types.Output
	nodes          map[string]*types.NodeProfile
	configurations map[string]map[string]any
	users          map[string]*types.UserProfile
	reservations   map[int64]time.Time

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		benchmarks:     make(map[int64]*types.Benchmark),
		jobs:           make(map[int64]*types.Job),
		outputs:        make(map[int64]*types.Output),
		nodes:          make(map[string]*types.NodeProfile),
		configurations: make(map[string]map[string]any),
		users:          make(map[string]*types.UserProfile),
		reservations:   make(map[int64]time.Time),
		now:            time.Now,
	}
}

// PutConfiguration seeds a configuration document; used by tests and the
// demo fixture loader.
func (m *Memory) PutConfiguration(id string, configuration map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configurations[id] = configuration
}

// CreateBenchmark allocates the next run number and stores the benchmark.
func (m *Memory) CreateBenchmark(_ context.Context, benchmark *types.Benchmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRun++
	benchmark.RunNr = m.lastRun
	if benchmark.StartTime == nil {
		now := m.now().UTC()
		benchmark.StartTime = &now
	}

	cp := *benchmark
	m.benchmarks[benchmark.RunNr] = &cp
	return nil
}

// GetBenchmark returns the benchmark with the given run number.
func (m *Memory) GetBenchmark(_ context.Context, runNr int64) (*types.Benchmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	benchmark, ok := m.benchmarks[runNr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *benchmark
	return &cp, nil
}

// ListBenchmarksByJobIDs returns all benchmarks owning at least one of the
// given job ids.
func (m *Memory) ListBenchmarksByJobIDs(_ context.Context, jobIDs []int64) ([]*types.Benchmark, error) {
	wanted := make(map[int64]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		wanted[id] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*types.Benchmark
	for _, benchmark := range m.benchmarks {
		for _, id := range benchmark.JobIDs {
			if _, ok := wanted[id]; ok {
				cp := *benchmark
				result = append(result, &cp)
				break
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].RunNr < result[j].RunNr })
	return result, nil
}

// UpdateBenchmark applies a partial update. Unknown fields are rejected so
// a typo cannot silently drop a write.
func (m *Memory) UpdateBenchmark(_ context.Context, runNr int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	benchmark, ok := m.benchmarks[runNr]
	if !ok {
		return ErrNotFound
	}

	for key, value := range fields {
		switch key {
		case "state":
			switch v := value.(type) {
			case types.BenchmarkState:
				benchmark.State = v
			case string:
				benchmark.State = types.BenchmarkState(v)
			default:
				return fmt.Errorf("invalid type for state: %T", value)
			}
		case "jobIds":
			ids, ok := value.([]int64)
			if !ok {
				return fmt.Errorf("invalid type for jobIds: %T", value)
			}
			benchmark.JobIDs = ids
		case "startTime":
			t, err := toTimePtr(value)
			if err != nil {
				return fmt.Errorf("startTime: %w", err)
			}
			benchmark.StartTime = t
		case "endTime":
			t, err := toTimePtr(value)
			if err != nil {
				return fmt.Errorf("endTime: %w", err)
			}
			benchmark.EndTime = t
		case "failureReason":
			s, err := toStringPtr(value)
			if err != nil {
				return fmt.Errorf("failureReason: %w", err)
			}
			benchmark.FailureReason = s
		case "issuer":
			s, err := toStringPtr(value)
			if err != nil {
				return fmt.Errorf("issuer: %w", err)
			}
			benchmark.Issuer = s
		case "name":
			s, err := toStringPtr(value)
			if err != nil {
				return fmt.Errorf("name: %w", err)
			}
			benchmark.Name = s
		default:
			return fmt.Errorf("unsupported benchmark field %q", key)
		}
	}
	return nil
}

// CreateJob stores a new job document.
func (m *Memory) CreateJob(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.JobID]; exists {
		return fmt.Errorf("job %d already exists", job.JobID)
	}
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

// GetJob returns the job with the given id.
func (m *Memory) GetJob(_ context.Context, jobID int64) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobsByRunNr returns all jobs belonging to a benchmark, ordered by id.
func (m *Memory) ListJobsByRunNr(_ context.Context, runNr int64) ([]*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*types.Job
	for _, job := range m.jobs {
		if job.RunNr == runNr {
			cp := *job
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JobID < result[j].JobID })
	return result, nil
}

// ListJobIDs returns the ids of all job documents.
func (m *Memory) ListJobIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ReplaceJob overwrites the stored job document.
func (m *Memory) ReplaceJob(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobID]; !ok {
		return ErrNotFound
	}
	cp := *job
	m.jobs[job.JobID] = &cp
	return nil
}

// SetJobNode records one registering node on the job document.
func (m *Memory) SetJobNode(_ context.Context, jobID int64, node types.JobNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Nodes == nil {
		job.Nodes = make(map[string]types.JobNode)
	}
	job.Nodes[node.Hostname] = node
	return nil
}

// UpsertOutput stores the harvested output for a job.
func (m *Memory) UpsertOutput(_ context.Context, output *types.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *output
	m.outputs[output.JobID] = &cp
	return nil
}

// GetOutput returns the stored output for a job.
func (m *Memory) GetOutput(_ context.Context, jobID int64) (*types.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	output, ok := m.outputs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *output
	return &cp, nil
}

// GetNodeProfile returns the calibration profile for a hardware hash.
func (m *Memory) GetNodeProfile(_ context.Context, hash string) (*types.NodeProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *node
	return &cp, nil
}

// CreateNodeProfile stores a new calibration profile.
func (m *Memory) CreateNodeProfile(_ context.Context, profile *types.NodeProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *profile
	m.nodes[profile.Hash] = &cp
	return nil
}

// TouchNodeProfile refreshes the profile's lastUpdate timestamp.
func (m *Memory) TouchNodeProfile(_ context.Context, hash string, lastUpdate int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[hash]
	if !ok {
		return ErrNotFound
	}
	node.LastUpdate = lastUpdate
	return nil
}

// GetConfiguration returns a configuration document by id.
func (m *Memory) GetConfiguration(_ context.Context, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configuration, ok := m.configurations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return configuration, nil
}

// PutUserProfile seeds a user profile; used by tests and the demo fixture
// loader.
func (m *Memory) PutUserProfile(profile *types.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	m.users[profile.UserName] = &cp
}

// GetUserProfile returns the directory-synced profile of a user.
func (m *Memory) GetUserProfile(_ context.Context, username string) (*types.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *profile
	return &cp, nil
}

// NextJobID allocates the smallest free job id and reserves it until the
// job document lands or the reservation expires.
func (m *Memory) NextJobID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-reservationTTL)
	for id, reservedAt := range m.reservations {
		if reservedAt.Before(cutoff) {
			delete(m.reservations, id)
		}
	}

	used := make(map[int64]struct{}, len(m.jobs)+len(m.reservations))
	for id := range m.jobs {
		used[id] = struct{}{}
	}
	for id := range m.reservations {
		used[id] = struct{}{}
	}

	id := NextFreeID(used)
	m.reservations[id] = m.now()
	return id, nil
}

// ReleaseReservedJobIDs drops reservations once the job documents exist.
func (m *Memory) ReleaseReservedJobIDs(_ context.Context, jobIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range jobIDs {
		delete(m.reservations, id)
	}
	return nil
}

// BenchmarkStateCounts returns the number of benchmarks per state.
func (m *Memory) BenchmarkStateCounts(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, benchmark := range m.benchmarks {
		counts[string(benchmark.State)]++
	}
	return counts, nil
}

// JobCount returns the number of job documents.
func (m *Memory) JobCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.jobs)), nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close(context.Context) error { return nil }

func toTimePtr(value any) (*time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return &v, nil
	case *time.Time:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid type %T", value)
	}
}

func toStringPtr(value any) (*string, error) {
	switch v := value.(type) {
	case string:
		return &v, nil
	case *string:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid type %T", value)
	}
}
