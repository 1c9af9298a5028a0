package types

import (
	"fmt"
	"strings"
	"time"
)

// BenchmarkState represents the lifecycle state of a benchmark
type BenchmarkState string

const (
	BenchmarkStatePending   BenchmarkState = "pending"
	BenchmarkStateRunning   BenchmarkState = "running"
	BenchmarkStateDone      BenchmarkState = "done"
	BenchmarkStateDeadline  BenchmarkState = "deadline"
	BenchmarkStateTimeout   BenchmarkState = "timeout"
	BenchmarkStateCancelled BenchmarkState = "cancelled"
	BenchmarkStateFailed    BenchmarkState = "failed"
)

// Scheduler job states that end a job's life
const (
	JobStateCompleted = "COMPLETED"
	JobStateDeadline  = "DEADLINE"
	JobStateTimeout   = "TIMEOUT"
	JobStateCancelled = "CANCELLED"
	JobStateFailed    = "FAILED"
)

// terminalStates orders terminal scheduler states by severity. When a
// benchmark finishes, the most severe state across its jobs wins.
var terminalStates = map[string]struct {
	severity int
	label    BenchmarkState
}{
	JobStateCompleted: {0, BenchmarkStateDone},
	JobStateDeadline:  {1, BenchmarkStateDeadline},
	JobStateTimeout:   {2, BenchmarkStateTimeout},
	JobStateCancelled: {3, BenchmarkStateCancelled},
	JobStateFailed:    {4, BenchmarkStateFailed},
}

// IsTerminalJobState reports whether a scheduler state ends a job's life.
func IsTerminalJobState(state string) bool {
	_, ok := terminalStates[state]
	return ok
}

// MostCriticalState returns the benchmark state derived from the terminal
// states of all jobs. Severity order: COMPLETED < DEADLINE < TIMEOUT <
// CANCELLED < FAILED. Jobs without state information count as COMPLETED.
func MostCriticalState(jobStates [][]string) BenchmarkState {
	winner := terminalStates[JobStateCompleted]
	for _, states := range jobStates {
		for _, s := range states {
			if t, ok := terminalStates[s]; ok && t.severity > winner.severity {
				winner = t
			}
		}
	}
	return winner.label
}

// ConfigVariable is a user-defined benchmark variable with one or more values.
// Multi-valued variables multiply the permutation set.
type ConfigVariable struct {
	Key      string   `bson:"key" json:"key"`
	Selected []string `bson:"selected" json:"selected"`
}

// Benchmark represents one user-requested run consisting of one or more
// scheduler jobs derived from a configuration snapshot.
type Benchmark struct {
	RunNr          int64            `bson:"runNr" json:"runNr"`
	Name           *string          `bson:"name" json:"name"`
	Issuer         *string          `bson:"issuer" json:"issuer"`
	State          BenchmarkState   `bson:"state" json:"state"`
	CLI            bool             `bson:"cli" json:"cli"`
	JobIDs         []int64          `bson:"jobIds" json:"jobIds"`
	Variables      []ConfigVariable `bson:"variables" json:"variables"`
	SharedProjects []string         `bson:"sharedProjects" json:"sharedProjects"`
	Configuration  map[string]any   `bson:"configuration" json:"configuration"`
	StartTime      *time.Time       `bson:"startTime" json:"startTime"`
	EndTime        *time.Time       `bson:"endTime,omitempty" json:"endTime,omitempty"`
	FailureReason  *string          `bson:"failureReason" json:"failureReason"`
}

// JobNode records one node a job runs on. The job document keeps these in a
// map keyed by hostname; the hash ties the node to its calibration profile.
type JobNode struct {
	Hash     string `bson:"hash" json:"hash"`
	Hostname string `bson:"hostname" json:"hostname"`
}

// Job represents one scheduler job belonging to a benchmark. Non-CLI jobs
// are created by the submitter, one per permutation; CLI jobs are created
// by node registration with most fields empty.
type Job struct {
	RunNr              int64              `bson:"runNr" json:"runNr"`
	JobID              int64              `bson:"jobId" json:"jobId"`
	Identificator      string             `bson:"identificator" json:"identificator"`
	PermutationNr      *int               `bson:"permutationNr" json:"permutationNr"`
	Iteration          *int               `bson:"iteration" json:"iteration"`
	CLI                bool               `bson:"cli" json:"cli"`
	Configuration      map[string]any     `bson:"configuration" json:"configuration"`
	Variables          map[string]string  `bson:"variables" json:"variables"`
	JobscriptFile      *string            `bson:"jobscriptFile" json:"jobscriptFile"`
	UserJobscriptFile  *string            `bson:"userJobscriptFile" json:"userJobscriptFile"`
	Nodes              map[string]JobNode `bson:"nodes" json:"nodes"`
	JobInfo            *SlurmJob          `bson:"jobInfo" json:"jobInfo"`
	StartTime          *time.Time         `bson:"startTime,omitempty" json:"startTime,omitempty"`
	EndTime            *time.Time         `bson:"endTime,omitempty" json:"endTime,omitempty"`
	Runtime            string             `bson:"runtime,omitempty" json:"runtime,omitempty"`
	RuntimeSeconds     int64              `bson:"runtimeSeconds,omitempty" json:"runtimeSeconds,omitempty"`
	Capturetime        string             `bson:"capturetime,omitempty" json:"capturetime,omitempty"`
	CapturetimeSeconds int64              `bson:"capturetimeSeconds,omitempty" json:"capturetimeSeconds,omitempty"`
	CaptureStart       *time.Time         `bson:"captureStart,omitempty" json:"captureStart,omitempty"`
	CaptureEnd         *time.Time         `bson:"captureEnd,omitempty" json:"captureEnd,omitempty"`
}

// Output holds the harvested stdout/stderr of one job. stderr is only kept
// when it differs from stdout.
type Output struct {
	RunNr          int64     `bson:"runNr" json:"runNr"`
	JobID          int64     `bson:"jobId" json:"jobId"`
	StandardOutput *string   `bson:"standardOutput" json:"standardOutput"`
	StandardError  *string   `bson:"standardError" json:"standardError"`
	LastUpdate     time.Time `bson:"lastUpdate" json:"lastUpdate"`
}

// NodeProfile tracks per-node calibration results, keyed by the opaque
// hardware hash reported by the node agent. LastUpdate is unix seconds.
type NodeProfile struct {
	Hash       string         `bson:"hash" json:"hash"`
	Benchmarks map[string]any `bson:"benchmarks,omitempty" json:"benchmarks,omitempty"`
	LastUpdate int64          `bson:"lastUpdate" json:"lastUpdate"`
}

// CalibrationComplete reports whether the required calibration measurements
// are present: the memory bandwidth entry plus at least one peakflops entry.
func (n *NodeProfile) CalibrationComplete() bool {
	if n.Benchmarks == nil {
		return false
	}
	if _, ok := n.Benchmarks["bandwidth_mem"]; !ok {
		return false
	}
	for key, v := range n.Benchmarks {
		if strings.HasPrefix(key, "peakflops") && v != nil {
			return true
		}
	}
	return false
}

// UserProfile holds the host identity of a benchmark issuer.
type UserProfile struct {
	UserName      string `bson:"user_name" json:"userName"`
	UID           int64  `bson:"uidnumber" json:"uidnumber"`
	GID           int64  `bson:"gidnumber" json:"gidnumber"`
	HomeDirectory string `bson:"homedirectory" json:"homedirectory"`
}

// Valid reports whether the profile is usable for submission. A zero uid or
// gid is rejected, as is a home directory outside a home tree.
func (u *UserProfile) Valid() bool {
	return u != nil && u.UID != 0 && u.GID != 0 &&
		strings.Contains(u.HomeDirectory, "home")
}

// SlurmJob is the controller's view of one scheduler job, normalised across
// scheduler versions. Times are nil until the scheduler reports them.
type SlurmJob struct {
	BatchHost               string     `bson:"batchHost" json:"batchHost"`
	Cluster                 string     `bson:"cluster" json:"cluster"`
	Command                 string     `bson:"command" json:"command"`
	CurrentWorkingDirectory string     `bson:"currentWorkingDirectory" json:"currentWorkingDirectory"`
	JobID                   int64      `bson:"jobId" json:"jobId"`
	JobState                []string   `bson:"jobState" json:"jobState"`
	Name                    string     `bson:"name" json:"name"`
	Nodes                   string     `bson:"nodes" json:"nodes"`
	Partition               string     `bson:"partition" json:"partition"`
	StandardError           string     `bson:"standardError" json:"standardError"`
	StandardOutput          string     `bson:"standardOutput" json:"standardOutput"`
	UserName                string     `bson:"userName" json:"userName"`
	StartTime               *time.Time `bson:"startTime" json:"startTime"`
	EndTime                 *time.Time `bson:"endTime" json:"endTime"`
	SubmitTime              *time.Time `bson:"submitTime" json:"submitTime"`
}

// Active reports whether the job has not reached a terminal state yet.
// Jobs linger in the scheduler's queue view for a while after completion,
// so state must be inspected rather than mere presence.
func (j *SlurmJob) Active() bool {
	for _, s := range j.JobState {
		if IsTerminalJobState(s) {
			return false
		}
	}
	return true
}

// SlurmNode is the controller's view of one cluster node.
type SlurmNode struct {
	Hostname   string   `bson:"hostname" json:"hostname"`
	CPUs       int      `bson:"cpus" json:"cpus"`
	Cores      int      `bson:"cores" json:"cores"`
	Threads    int      `bson:"threads" json:"threads"`
	State      []string `bson:"state" json:"state"`
	StateFlags []string `bson:"stateFlags" json:"stateFlags"`
	Partitions []string `bson:"partitions" json:"partitions"`
	Sockets    int      `bson:"sockets" json:"sockets"`
	RealMemory int64    `bson:"realMemory" json:"realMemory"`
}

// SlurmVersion identifies the scheduler release, probed once at startup.
type SlurmVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Micro int `json:"micro"`
}

// MonitoringSettings are returned to the node agent at job registration.
type MonitoringSettings struct {
	JobID             int64 `json:"jobId"`
	Interval          int   `json:"interval"`
	EnableMonitoring  bool  `json:"enableMonitoring"`
	EnableLikwid      bool  `json:"enableLikwid"`
	BenchmarkRequired bool  `json:"benchmarkRequired"`
}

// StrPtr returns a pointer to s. Convenience for nullable document fields.
func StrPtr(s string) *string {
	return &s
}

// SecondsToClock formats a duration in seconds as HH:MM:SS.
func SecondsToClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
