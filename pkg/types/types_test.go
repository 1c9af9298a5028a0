package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMostCriticalState(t *testing.T) {
	tests := []struct {
		name      string
		jobStates [][]string
		want      BenchmarkState
	}{
		{
			name:      "all completed",
			jobStates: [][]string{{"COMPLETED"}, {"COMPLETED"}},
			want:      BenchmarkStateDone,
		},
		{
			name:      "single cancelled wins over completed",
			jobStates: [][]string{{"COMPLETED"}, {"CANCELLED"}, {"COMPLETED"}},
			want:      BenchmarkStateCancelled,
		},
		{
			name:      "failed wins over everything",
			jobStates: [][]string{{"CANCELLED"}, {"FAILED"}, {"TIMEOUT"}},
			want:      BenchmarkStateFailed,
		},
		{
			name:      "timeout wins over deadline",
			jobStates: [][]string{{"DEADLINE"}, {"TIMEOUT"}},
			want:      BenchmarkStateTimeout,
		},
		{
			name:      "multiple states per job",
			jobStates: [][]string{{"COMPLETED", "CANCELLED"}},
			want:      BenchmarkStateCancelled,
		},
		{
			name:      "non-terminal states ignored",
			jobStates: [][]string{{"RUNNING"}, {"PENDING"}},
			want:      BenchmarkStateDone,
		},
		{
			name:      "no jobs defaults to done",
			jobStates: nil,
			want:      BenchmarkStateDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MostCriticalState(tt.jobStates))
		})
	}
}

func TestIsTerminalJobState(t *testing.T) {
	for _, s := range []string{"COMPLETED", "DEADLINE", "TIMEOUT", "CANCELLED", "FAILED"} {
		assert.True(t, IsTerminalJobState(s), s)
	}
	for _, s := range []string{"RUNNING", "PENDING", "SUSPENDED", "completed", ""} {
		assert.False(t, IsTerminalJobState(s), s)
	}
}

func TestSlurmJobActive(t *testing.T) {
	job := &SlurmJob{JobState: []string{"RUNNING"}}
	assert.True(t, job.Active())

	job.JobState = []string{"RUNNING", "COMPLETED"}
	assert.False(t, job.Active())

	job.JobState = nil
	assert.True(t, job.Active())
}

func TestNodeProfileCalibrationComplete(t *testing.T) {
	tests := []struct {
		name       string
		benchmarks map[string]any
		want       bool
	}{
		{
			name:       "no benchmarks",
			benchmarks: nil,
			want:       false,
		},
		{
			name:       "bandwidth only",
			benchmarks: map[string]any{"bandwidth_mem": 42.0},
			want:       false,
		},
		{
			name:       "peakflops only",
			benchmarks: map[string]any{"peakflops_avx": 1.0},
			want:       false,
		},
		{
			name: "bandwidth and peakflops",
			benchmarks: map[string]any{
				"bandwidth_mem": 42.0,
				"peakflops_avx": 1.0,
			},
			want: true,
		},
		{
			name: "peakflops entry with nil value does not count",
			benchmarks: map[string]any{
				"bandwidth_mem": 42.0,
				"peakflops_avx": nil,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &NodeProfile{Hash: "h1", Benchmarks: tt.benchmarks}
			assert.Equal(t, tt.want, n.CalibrationComplete())
		})
	}
}

func TestUserProfileValid(t *testing.T) {
	valid := &UserProfile{UserName: "demo", UID: 1000, GID: 1000, HomeDirectory: "/home/demo"}
	assert.True(t, valid.Valid())

	assert.False(t, (&UserProfile{UID: 0, GID: 1000, HomeDirectory: "/home/demo"}).Valid())
	assert.False(t, (&UserProfile{UID: 1000, GID: 0, HomeDirectory: "/home/demo"}).Valid())
	assert.False(t, (&UserProfile{UID: 1000, GID: 1000, HomeDirectory: "/srv/demo"}).Valid())

	var nilProfile *UserProfile
	assert.False(t, nilProfile.Valid())
}

func TestSecondsToClock(t *testing.T) {
	assert.Equal(t, "00:00:00", SecondsToClock(0))
	assert.Equal(t, "00:01:05", SecondsToClock(65))
	assert.Equal(t, "01:00:00", SecondsToClock(3600))
	assert.Equal(t, "27:46:39", SecondsToClock(99999))
	assert.Equal(t, "00:00:00", SecondsToClock(-5))
}
