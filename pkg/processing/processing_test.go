package processing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// fakeSched serves a scripted sequence of scheduler views, one per watch
// pass. The last view repeats once the script is exhausted; RefreshJob
// records which jobs were re-read. The zero value serves an empty queue.
type fakeSched struct {
	mu        sync.Mutex
	passes    []map[int64]*types.SlurmJob
	pass      int
	refreshed []int64
}

func newFakeSched(passes ...map[int64]*types.SlurmJob) *fakeSched {
	return &fakeSched{passes: passes}
}

func (f *fakeSched) current() map[int64]*types.SlurmJob {
	if len(f.passes) == 0 {
		return map[int64]*types.SlurmJob{}
	}
	idx := f.pass
	if idx >= len(f.passes) {
		idx = len(f.passes) - 1
	}
	return f.passes[idx]
}

// ActiveJobs is called first in every pass and filters the current view.
func (f *fakeSched) ActiveJobs(context.Context) map[int64]*types.SlurmJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := make(map[int64]*types.SlurmJob)
	for id, job := range f.current() {
		if job.Active() {
			active[id] = job
		}
	}
	return active
}

// Jobs is called second and advances the script to the next pass.
func (f *fakeSched) Jobs(context.Context) map[int64]*types.SlurmJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	view := make(map[int64]*types.SlurmJob, len(f.current()))
	for id, job := range f.current() {
		view[id] = job
	}
	f.pass++
	return view
}

func (f *fakeSched) RefreshJob(_ context.Context, jobID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, jobID)
}

func (f *fakeSched) passCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pass
}

func slurmJob(id int64, states ...string) *types.SlurmJob {
	return &types.SlurmJob{JobID: id, JobState: states, UserName: "alice", Name: "stream"}
}

// view builds one scheduler snapshot with every given job in the same state.
func view(state string, ids ...int64) map[int64]*types.SlurmJob {
	jobs := make(map[int64]*types.SlurmJob, len(ids))
	for _, id := range ids {
		jobs[id] = slurmJob(id, state)
	}
	return jobs
}

func seedWatchedBenchmark(t *testing.T, st *store.Memory, home string, cli bool, jobIDs ...int64) *types.Benchmark {
	t.Helper()

	b := &types.Benchmark{
		Name:   types.StrPtr("stream"),
		State:  types.BenchmarkStateRunning,
		CLI:    cli,
		JobIDs: jobIDs,
	}
	if !cli {
		b.Issuer = types.StrPtr("alice")
		st.PutUserProfile(&types.UserProfile{
			UserName:      "alice",
			UID:           1000,
			GID:           1000,
			HomeDirectory: home,
		})
	}
	require.NoError(t, st.CreateBenchmark(context.Background(), b))

	for _, id := range jobIDs {
		seedJob(t, st, b.RunNr, id, cli)
	}
	return b
}

func TestWatchAllJobsComplete(t *testing.T) {
	st := store.NewMemory()
	home, _ := makeHomeTree(t)

	sched := newFakeSched(
		view("RUNNING", 101, 102, 103, 104),
		view("RUNNING", 101, 102, 103, 104),
		view("RUNNING", 101, 102, 103, 104),
		view(types.JobStateCompleted, 101, 102, 103, 104),
	)
	w := newTestWatcher(st, sched, "")

	b := seedWatchedBenchmark(t, st, home, false, 101, 102, 103, 104)
	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateDone, got.State)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, testNow, *got.EndTime)
	assert.Nil(t, got.FailureReason)

	// Finalisation re-reads every job once through scontrol.
	assert.ElementsMatch(t, []int64{101, 102, 103, 104}, sched.refreshed)

	// Every job carries the last scheduler view.
	for _, id := range b.JobIDs {
		job, err := st.GetJob(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, job.JobInfo, "job %d", id)
		assert.Equal(t, []string{types.JobStateCompleted}, job.JobInfo.JobState)
	}
}

func TestWatchMinIterationsBeforeRetirement(t *testing.T) {
	st := store.NewMemory()
	home, _ := makeHomeTree(t)

	// The job is terminal from the very first pass, as happens when squeue
	// has not picked up a fresh submission yet.
	sched := newFakeSched(view(types.JobStateCompleted, 101))
	w := newTestWatcher(st, sched, "")

	b := seedWatchedBenchmark(t, st, home, false, 101)
	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateDone, got.State)

	// Iterations 0..3 in the loop plus one read during finalisation: the
	// job must be observed at least WatchMinIterations+1 times before the
	// benchmark finishes.
	assert.GreaterOrEqual(t, sched.passCount(), WatchMinIterations+1)
}

func TestWatchMostSevereStateWins(t *testing.T) {
	st := store.NewMemory()
	home, _ := makeHomeTree(t)

	final := map[int64]*types.SlurmJob{
		101: slurmJob(101, types.JobStateCompleted),
		102: slurmJob(102, types.JobStateFailed),
		103: slurmJob(103, types.JobStateCancelled),
	}
	sched := newFakeSched(view("RUNNING", 101, 102, 103), final)
	w := newTestWatcher(st, sched, "")

	b := seedWatchedBenchmark(t, st, home, false, 101, 102, 103)
	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
	assert.Nil(t, got.FailureReason, "job failures are reflected in state, not failureReason")
}

func TestWatchCancelledJobs(t *testing.T) {
	st := store.NewMemory()
	home, _ := makeHomeTree(t)

	sched := newFakeSched(
		view("RUNNING", 101, 102),
		view(types.JobStateCancelled, 101, 102),
	)
	w := newTestWatcher(st, sched, "")

	b := seedWatchedBenchmark(t, st, home, false, 101, 102)
	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateCancelled, got.State)
}

func TestWatchCLIBenchmark(t *testing.T) {
	st := store.NewMemory()

	submit := time.Date(2023, 7, 1, 9, 0, 0, 0, time.UTC)
	end := submit.Add(2 * time.Hour)
	running := slurmJob(500, "RUNNING")
	running.SubmitTime = &submit
	finished := slurmJob(500, types.JobStateCompleted)
	finished.SubmitTime = &submit
	finished.EndTime = &end

	sched := newFakeSched(
		map[int64]*types.SlurmJob{500: running},
		map[int64]*types.SlurmJob{500: finished},
	)
	w := newTestWatcher(st, sched, t.TempDir())

	b := seedWatchedBenchmark(t, st, "", true, 500)
	require.Nil(t, b.Issuer)
	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateDone, got.State)

	// Issuer and name come from the first scheduler sighting.
	require.NotNil(t, got.Issuer)
	assert.Equal(t, "alice", *got.Issuer)
	require.NotNil(t, got.Name)
	assert.Equal(t, "stream", *got.Name)

	// The benchmark span is derived from the scheduler, not from the
	// controller clock.
	require.NotNil(t, got.StartTime)
	assert.Equal(t, submit, *got.StartTime)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, end, *got.EndTime)
}

func TestWatchMissingUserProfileMarksFailed(t *testing.T) {
	st := store.NewMemory()
	w := newTestWatcher(st, newFakeSched(), "")

	// Issuer exists on the benchmark but was never synced into the users
	// collection.
	b := &types.Benchmark{
		Issuer: types.StrPtr("ghost"),
		State:  types.BenchmarkStateRunning,
		JobIDs: []int64{101},
	}
	require.NoError(t, st.CreateBenchmark(context.Background(), b))

	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, processingFailedReason, *got.FailureReason)
}

func TestWatchInvalidHomeDirectoryMarksFailed(t *testing.T) {
	st := store.NewMemory()
	w := newTestWatcher(st, newFakeSched(), "")

	b := &types.Benchmark{
		Issuer: types.StrPtr("alice"),
		State:  types.BenchmarkStateRunning,
		JobIDs: []int64{101},
	}
	st.PutUserProfile(&types.UserProfile{
		UserName:      "alice",
		UID:           1000,
		GID:           1000,
		HomeDirectory: "/var/empty",
	})
	require.NoError(t, st.CreateBenchmark(context.Background(), b))

	w.Watch(context.Background(), b.RunNr)

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, processingFailedReason, *got.FailureReason)
}

func TestWatchCancelledContextLeavesBenchmarkUntouched(t *testing.T) {
	st := store.NewMemory()
	home, _ := makeHomeTree(t)

	// The queue never drains, so only context cancellation ends the watch.
	sched := newFakeSched(view("RUNNING", 101))
	w := newTestWatcher(st, sched, "")

	b := seedWatchedBenchmark(t, st, home, false, 101)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Watch(ctx, b.RunNr)
	}()
	cancel()
	<-done

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateRunning, got.State,
		"a restarted controller must be able to pick the benchmark up again")
	assert.Nil(t, got.FailureReason)
}

func TestWatchUnknownBenchmarkMarksNothing(t *testing.T) {
	st := store.NewMemory()
	w := newTestWatcher(st, newFakeSched(), "")

	// Must not panic or write anything for a run number that was never
	// created.
	w.Watch(context.Background(), 999)
}
