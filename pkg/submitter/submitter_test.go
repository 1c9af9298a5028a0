package submitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

// fakeScheduler assigns sequential job ids and optionally rejects selected
// submissions (1-based call index). It verifies that the script exists and
// is executable at submission time.
type fakeScheduler struct {
	t      *testing.T
	mu     sync.Mutex
	nextID int64
	reject map[int]bool
	calls  []schedulerCall
}

type schedulerCall struct {
	username  string
	path      string
	homeDir   string
	nodelist  string
	variables map[string]string
}

func (f *fakeScheduler) Submit(_ context.Context, username, jobscriptPath, homeDir string,
	configuration map[string]any, variables map[string]string) (int64, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(jobscriptPath)
	require.NoError(f.t, err, "jobscript must exist at submission time")
	require.Equal(f.t, os.FileMode(0o755), info.Mode().Perm())

	nodelist, _ := configuration["nodelist"].(string)
	f.calls = append(f.calls, schedulerCall{
		username:  username,
		path:      jobscriptPath,
		homeDir:   homeDir,
		nodelist:  nodelist,
		variables: variables,
	})

	// Ids are consumed even for rejected submissions, like a scheduler
	// that admits the job and then refuses it.
	f.nextID++
	if f.reject[len(f.calls)] {
		return 0, fmt.Errorf("sbatch: error: invalid partition")
	}
	return f.nextID, nil
}

// allowAllOwner skips the chown path entirely.
type allowAllOwner struct{}

func (allowAllOwner) DirOwnedByUser(context.Context, string, string, int64, int64) bool {
	return true
}

// denyFirstOwner reports every directory as foreign once, forcing the
// chown path.
type denyFirstOwner struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *denyFirstOwner) DirOwnedByUser(_ context.Context, path string, _ string, _, _ int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	owned := d.seen[path]
	d.seen[path] = true
	return owned
}

func testUser(home string) *types.UserProfile {
	return &types.UserProfile{
		UserName:      "alice",
		UID:           int64(os.Getuid()),
		GID:           int64(os.Getgid()),
		HomeDirectory: home,
	}
}

func seedBenchmark(t *testing.T, st store.Store, variables []types.ConfigVariable) *types.Benchmark {
	t.Helper()
	b := &types.Benchmark{
		Name:      types.StrPtr("stream"),
		Issuer:    types.StrPtr("alice"),
		State:     types.BenchmarkStatePending,
		Variables: variables,
		Configuration: map[string]any{
			"configuration": map[string]any{
				"configurationName": "Stream",
				"iterations":        2,
				"jobscript": []any{
					map[string]any{
						"variantName": "baseline",
						"script":      "#XBAT-START#\n./stream\n#XBAT-STOP#",
						"job-name":    "stream",
						"nodes":       1,
						"ntasks":      1,
						"partition":   "compute",
						"time":        "01:00:00",
					},
				},
			},
		},
	}
	require.NoError(t, st.CreateBenchmark(context.Background(), b))
	return b
}

func TestRunHappyPath(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	scheduler := &fakeScheduler{t: t, nextID: 100}
	s := New(st, scheduler, allowAllOwner{}, "")

	b := seedBenchmark(t, st, []types.ConfigVariable{{Key: "N", Selected: []string{"1", "2"}}})

	s.Run(context.Background(), b.RunNr, testUser(home))

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateRunning, got.State)
	assert.Equal(t, []int64{101, 102, 103, 104}, got.JobIDs)
	assert.Nil(t, got.FailureReason)

	jobs, err := st.ListJobsByRunNr(context.Background(), b.RunNr)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	for _, job := range jobs {
		assert.Equal(t, b.RunNr, job.RunNr)
		assert.NotNil(t, job.JobscriptFile)
		assert.NotNil(t, job.UserJobscriptFile)
	}

	// All four submissions ran as the issuer from their home directory.
	require.Len(t, scheduler.calls, 4)
	for _, call := range scheduler.calls {
		assert.Equal(t, "alice", call.username)
		assert.Equal(t, home, call.homeDir)
	}
	assert.Equal(t, map[string]string{"N": "1"}, scheduler.calls[0].variables)
	assert.Equal(t, map[string]string{"N": "2"}, scheduler.calls[2].variables)
}

func TestRunPreparesWorkTree(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	scheduler := &fakeScheduler{t: t, nextID: 100}
	s := New(st, scheduler, &denyFirstOwner{}, "")

	b := seedBenchmark(t, st, nil)

	s.Run(context.Background(), b.RunNr, testUser(home))

	for _, dir := range []string{
		filepath.Join(home, ".xbat"),
		filepath.Join(home, ".xbat", "jobscripts"),
		filepath.Join(home, ".xbat", "logs"),
		filepath.Join(home, ".xbat", "outputs"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm(), dir)
	}

	script := filepath.Join(home, ".xbat", "jobscripts", fmt.Sprintf("%d-0-0.sh", b.RunNr))
	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRunPartialFailure(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	scheduler := &fakeScheduler{t: t, nextID: 100, reject: map[int]bool{2: true}}
	s := New(st, scheduler, allowAllOwner{}, "")

	b := seedBenchmark(t, st, []types.ConfigVariable{{Key: "N", Selected: []string{"1", "2"}}})

	s.Run(context.Background(), b.RunNr, testUser(home))

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateRunning, got.State)
	assert.Equal(t, []int64{101, 103, 104}, got.JobIDs)
	assert.Nil(t, got.FailureReason, "partial submission is not a benchmark-level failure")

	jobs, err := st.ListJobsByRunNr(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestRunNoJobsSubmitted(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	scheduler := &fakeScheduler{t: t, reject: map[int]bool{1: true, 2: true}}
	s := New(st, scheduler, allowAllOwner{}, "")

	b := seedBenchmark(t, st, nil)

	s.Run(context.Background(), b.RunNr, testUser(home))

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "No jobs were submitted", *got.FailureReason)
	assert.Empty(t, got.JobIDs)
}

func TestRunInvalidConfiguration(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	s := New(st, &fakeScheduler{t: t}, allowAllOwner{}, "")

	b := &types.Benchmark{
		State:         types.BenchmarkStatePending,
		Configuration: map[string]any{"unrelated": true},
	}
	require.NoError(t, st.CreateBenchmark(context.Background(), b))

	s.Run(context.Background(), b.RunNr, testUser(home))

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, submissionFailedReason, *got.FailureReason)
}

func TestRunWorkPathCollision(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	s := New(st, &fakeScheduler{t: t}, allowAllOwner{}, "")

	// A file squatting on the work tree path must fail the submission.
	require.NoError(t, os.WriteFile(filepath.Join(home, ".xbat"), []byte("x"), 0o644))

	b := seedBenchmark(t, st, nil)
	s.Run(context.Background(), b.RunNr, testUser(home))

	got, err := st.GetBenchmark(context.Background(), b.RunNr)
	require.NoError(t, err)
	assert.Equal(t, types.BenchmarkStateFailed, got.State)
}

func TestRunDistinctRunsGetDisjointJobIDs(t *testing.T) {
	st := store.NewMemory()
	home := t.TempDir()
	scheduler := &fakeScheduler{t: t, nextID: 200}
	s := New(st, scheduler, allowAllOwner{}, "")

	first := seedBenchmark(t, st, nil)
	second := seedBenchmark(t, st, nil)
	require.NotEqual(t, first.RunNr, second.RunNr)

	s.Run(context.Background(), first.RunNr, testUser(home))
	s.Run(context.Background(), second.RunNr, testUser(home))

	a, err := st.GetBenchmark(context.Background(), first.RunNr)
	require.NoError(t, err)
	b, err := st.GetBenchmark(context.Background(), second.RunNr)
	require.NoError(t, err)

	seen := map[int64]bool{}
	for _, id := range append(append([]int64{}, a.JobIDs...), b.JobIDs...) {
		assert.False(t, seen[id], "job id %d assigned twice", id)
		seen[id] = true
	}
}
