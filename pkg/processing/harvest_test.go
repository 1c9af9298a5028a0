package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/types"
)

var testNow = time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestWatcher(st store.Store, sched Scheduler, mountPrefix string) *Watcher {
	w := NewWatcher(st, sched, mountPrefix)
	w.interval = time.Millisecond
	w.now = func() time.Time { return testNow }
	return w
}

// makeHomeTree lays out a user work tree below a fake home directory and
// returns its path views.
func makeHomeTree(t *testing.T) (string, *paths.Directories) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home", "alice")
	dirs := paths.ForHome(home, "")
	for _, dir := range dirs.Internal.List() {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return home, &dirs
}

func seedJob(t *testing.T, st store.Store, runNr, jobID int64, cli bool) {
	t.Helper()
	job := &types.Job{
		RunNr:         runNr,
		JobID:         jobID,
		Identificator: fmt.Sprintf("%d-0-0", runNr),
		CLI:           cli,
		Nodes:         map[string]types.JobNode{},
	}
	if !cli {
		job.JobscriptFile = types.StrPtr("#!/bin/bash\n")
		job.UserJobscriptFile = types.StrPtr("#!/bin/bash\n")
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
}

func TestHarvestJobFromWorkTree(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, dirs := makeHomeTree(t)
	w := newTestWatcher(st, &fakeSched{}, "")

	seedJob(t, st, 7, 101, false)
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.Internal.Logs, "101.time.log"),
		[]byte("start=1000\ncaptureStart=1010\ncaptureEnd=1090\nend=1100\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.Internal.Outputs, "101.out"),
		[]byte("triad: 42 GB/s\n"), 0o644))

	info := &types.SlurmJob{JobID: 101, JobState: []string{"RUNNING"}, Nodes: "node01"}
	w.harvestJob(ctx, 101, dirs, info)

	job, err := st.GetJob(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(100), job.RuntimeSeconds)
	assert.Equal(t, "00:01:40", job.Runtime)
	assert.Equal(t, int64(80), job.CapturetimeSeconds)
	assert.Equal(t, "00:01:20", job.Capturetime)
	require.NotNil(t, job.CaptureStart)
	assert.Equal(t, time.Unix(1010, 0).UTC(), *job.CaptureStart)
	require.NotNil(t, job.CaptureEnd)
	assert.Equal(t, time.Unix(1090, 0).UTC(), *job.CaptureEnd)
	require.NotNil(t, job.JobInfo)
	assert.Equal(t, "node01", job.JobInfo.Nodes)

	output, err := st.GetOutput(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, output.StandardOutput)
	assert.Equal(t, "triad: 42 GB/s\n", *output.StandardOutput)
	assert.Nil(t, output.StandardError)
	assert.Equal(t, testNow, output.LastUpdate)
}

func TestHarvestJobIncompleteTimeLog(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, dirs := makeHomeTree(t)
	w := newTestWatcher(st, &fakeSched{}, "")

	seedJob(t, st, 7, 101, false)
	require.NoError(t, os.WriteFile(
		filepath.Join(dirs.Internal.Logs, "101.time.log"),
		[]byte("start=1000\ncaptureStart=1010\n"), 0o644))

	w.harvestJob(ctx, 101, dirs, &types.SlurmJob{JobID: 101})

	job, err := st.GetJob(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(0), job.RuntimeSeconds)
	assert.Equal(t, "00:00:00", job.Runtime)
	assert.Equal(t, int64(0), job.CapturetimeSeconds)
	require.NotNil(t, job.CaptureStart, "captureStart mark is already known")
	assert.Nil(t, job.CaptureEnd)
}

func TestHarvestJobNoArtefactsYet(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_, dirs := makeHomeTree(t)
	w := newTestWatcher(st, &fakeSched{}, "")

	seedJob(t, st, 7, 101, false)
	info := &types.SlurmJob{JobID: 101, JobState: []string{"PENDING"}}
	w.harvestJob(ctx, 101, dirs, info)

	job, err := st.GetJob(ctx, 101)
	require.NoError(t, err)
	assert.Empty(t, job.Runtime)
	require.NotNil(t, job.JobInfo, "scheduler view is stored even without artefacts")

	// Without an output file no record is written at all.
	_, err = st.GetOutput(ctx, 101)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHarvestJobUnknownJob(t *testing.T) {
	st := store.NewMemory()
	w := newTestWatcher(st, &fakeSched{}, "")

	w.harvestJob(context.Background(), 999, nil, nil)

	_, err := st.GetOutput(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHarvestCLIJob(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	prefix := t.TempDir()
	w := newTestWatcher(st, &fakeSched{}, prefix)

	scriptPath := "/home/bob/run.sh"
	stdoutPath := "/home/bob/slurm-500.out"
	stderrPath := "/home/bob/slurm-500.err"
	for hostPath, content := range map[string]string{
		scriptPath: "#!/bin/bash\n./app\n",
		stdoutPath: "app output\n",
		stderrPath: "app warnings\n",
	} {
		mounted := paths.Internal(hostPath, prefix)
		require.NoError(t, os.MkdirAll(filepath.Dir(mounted), 0o755))
		require.NoError(t, os.WriteFile(mounted, []byte(content), 0o644))
	}

	seedJob(t, st, 9, 500, true)

	start := time.Date(2023, 7, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	info := &types.SlurmJob{
		JobID:          500,
		Command:        scriptPath,
		StandardOutput: stdoutPath,
		StandardError:  stderrPath,
		StartTime:      &start,
		EndTime:        &end,
		JobState:       []string{"COMPLETED"},
	}
	w.harvestJob(ctx, 500, nil, info)

	job, err := st.GetJob(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, job.StartTime)
	assert.Equal(t, start, *job.StartTime)
	require.NotNil(t, job.EndTime)
	assert.Equal(t, end, *job.EndTime)
	assert.Equal(t, int64(90), job.RuntimeSeconds)
	assert.Equal(t, "00:01:30", job.Runtime)
	require.NotNil(t, job.UserJobscriptFile)
	assert.Equal(t, "#!/bin/bash\n./app\n", *job.UserJobscriptFile)

	output, err := st.GetOutput(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, output.StandardOutput)
	assert.Equal(t, "app output\n", *output.StandardOutput)
	require.NotNil(t, output.StandardError)
	assert.Equal(t, "app warnings\n", *output.StandardError)
}

func TestHarvestCLIJobSharedStreams(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	prefix := t.TempDir()
	w := newTestWatcher(st, &fakeSched{}, prefix)

	stdoutPath := "/home/bob/slurm-500.out"
	mounted := paths.Internal(stdoutPath, prefix)
	require.NoError(t, os.MkdirAll(filepath.Dir(mounted), 0o755))
	require.NoError(t, os.WriteFile(mounted, []byte("combined\n"), 0o644))

	seedJob(t, st, 9, 500, true)
	info := &types.SlurmJob{
		JobID:          500,
		StandardOutput: stdoutPath,
		StandardError:  stdoutPath,
	}
	w.harvestJob(ctx, 500, nil, info)

	output, err := st.GetOutput(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, output.StandardOutput)
	assert.Equal(t, "combined\n", *output.StandardOutput)
	assert.Nil(t, output.StandardError, "stderr is only kept when it differs from stdout")
}

func TestHarvestCLIJobVanishedFromQueue(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	w := newTestWatcher(st, &fakeSched{}, t.TempDir())

	seedJob(t, st, 9, 500, true)

	start := time.Date(2023, 7, 1, 10, 0, 0, 0, time.UTC)
	info := &types.SlurmJob{JobID: 500, StartTime: &start}
	w.harvestJob(ctx, 500, nil, info)

	job, err := st.GetJob(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, job.StartTime)
	require.NotNil(t, job.JobInfo)

	// The job dropping out of the scheduler view clears the volatile
	// times but keeps the last known scheduler info.
	w.harvestJob(ctx, 500, nil, nil)

	job, err = st.GetJob(ctx, 500)
	require.NoError(t, err)
	assert.Nil(t, job.StartTime)
	require.NotNil(t, job.JobInfo)

	output, err := st.GetOutput(ctx, 500)
	require.NoError(t, err)
	assert.Nil(t, output.StandardOutput)
	assert.Nil(t, output.StandardError)
}

func TestBackfillUserJobscriptOnlyOnce(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	prefix := t.TempDir()
	w := newTestWatcher(st, &fakeSched{}, prefix)

	scriptPath := "/home/bob/run.sh"
	mounted := paths.Internal(scriptPath, prefix)
	require.NoError(t, os.MkdirAll(filepath.Dir(mounted), 0o755))
	require.NoError(t, os.WriteFile(mounted, []byte("original\n"), 0o644))

	seedJob(t, st, 9, 500, true)
	info := &types.SlurmJob{JobID: 500, Command: scriptPath}

	w.harvestJob(ctx, 500, nil, info)
	require.NoError(t, os.WriteFile(mounted, []byte("changed\n"), 0o644))
	w.harvestJob(ctx, 500, nil, info)

	job, err := st.GetJob(ctx, 500)
	require.NoError(t, err)
	require.NotNil(t, job.UserJobscriptFile)
	assert.Equal(t, "original\n", *job.UserJobscriptFile)
}
