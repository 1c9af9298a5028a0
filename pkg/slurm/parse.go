package slurm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/megware/xbatctld/pkg/types"
)

// FlexInt decodes the scheduler's three spellings of a number: a plain
// JSON number, a numeric string, or the v23+ wrapper object
// {"set": bool, "infinite": bool, "number": N}. An unset wrapper decodes
// to zero.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	if data[0] == '{' {
		var wrapper struct {
			Set    bool  `json:"set"`
			Number int64 `json:"number"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return err
		}
		if !wrapper.Set {
			*f = 0
			return nil
		}
		*f = FlexInt(wrapper.Number)
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// FlexStringList decodes a scalar string or a list of strings into a list.
// Older scheduler releases report job_state and node state as scalars.
type FlexStringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexStringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = FlexStringList(list)
	return nil
}

// contains reports whether any element contains the given substring. The
// scheduler reports feature constraints either as one expression string or
// as a list, so substring matching covers both.
func (f FlexStringList) contains(sub string) bool {
	for _, s := range f {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// rawJob is one job as reported by squeue/scontrol JSON output.
type rawJob struct {
	BatchHost               string         `json:"batch_host"`
	Cluster                 string         `json:"cluster"`
	Command                 string         `json:"command"`
	CurrentWorkingDirectory string         `json:"current_working_directory"`
	JobID                   FlexInt        `json:"job_id"`
	JobState                FlexStringList `json:"job_state"`
	Name                    string         `json:"name"`
	Nodes                   string         `json:"nodes"`
	Partition               string         `json:"partition"`
	StandardError           string         `json:"standard_error"`
	StandardOutput          string         `json:"standard_output"`
	UserName                string         `json:"user_name"`
	Features                FlexStringList `json:"features"`
	EndTime                 FlexInt        `json:"end_time"`
	StartTime               FlexInt        `json:"start_time"`
	SubmitTime              FlexInt        `json:"submit_time"`
}

// rawNode is one node as reported by sinfo/scontrol JSON output.
type rawNode struct {
	Hostname   string         `json:"hostname"`
	CPUs       FlexInt        `json:"cpus"`
	Cores      FlexInt        `json:"cores"`
	Threads    FlexInt        `json:"threads"`
	State      FlexStringList `json:"state"`
	StateFlags []string       `json:"state_flags"`
	Partitions []string       `json:"partitions"`
	Sockets    FlexInt        `json:"sockets"`
	RealMemory FlexInt        `json:"real_memory"`
}

// queueEnvelope is the top-level shape of squeue and scontrol show job
// output. The meta block doubles as the version probe; encoding/json
// matches the key case-insensitively, which covers both the "slurm" and
// "Slurm" spellings seen across releases.
type queueEnvelope struct {
	Meta metaEnvelope `json:"meta"`
	Jobs []rawJob     `json:"jobs"`
}

type nodesEnvelope struct {
	Meta  metaEnvelope `json:"meta"`
	Nodes []rawNode    `json:"nodes"`
}

type metaEnvelope struct {
	Slurm struct {
		Version struct {
			Major FlexInt `json:"major"`
			Minor FlexInt `json:"minor"`
			Micro FlexInt `json:"micro"`
		} `json:"version"`
	} `json:"slurm"`
}

func (m metaEnvelope) version() types.SlurmVersion {
	return types.SlurmVersion{
		Major: int(m.Slurm.Version.Major),
		Minor: int(m.Slurm.Version.Minor),
		Micro: int(m.Slurm.Version.Micro),
	}
}

// parseJob normalises one scheduler job. Jobs without the xbat feature
// constraint return nil; they were not started by the controller.
func parseJob(raw rawJob) *types.SlurmJob {
	if !raw.Features.contains("xbat") {
		return nil
	}

	job := &types.SlurmJob{
		BatchHost:               raw.BatchHost,
		Cluster:                 raw.Cluster,
		Command:                 raw.Command,
		CurrentWorkingDirectory: raw.CurrentWorkingDirectory,
		JobID:                   int64(raw.JobID),
		JobState:                []string(raw.JobState),
		Name:                    raw.Name,
		Nodes:                   raw.Nodes,
		Partition:               raw.Partition,
		UserName:                raw.UserName,
		StartTime:               toTime(raw.StartTime),
		EndTime:                 toTime(raw.EndTime),
		SubmitTime:              toTime(raw.SubmitTime),
	}

	job.StandardOutput = expandPathPatterns(raw.StandardOutput, job)
	job.StandardError = expandPathPatterns(raw.StandardError, job)

	return job
}

// expandPathPatterns substitutes the scheduler's filename placeholders
// (%j job id, %u user name, %x job name) with the job's own fields.
func expandPathPatterns(path string, job *types.SlurmJob) string {
	path = strings.ReplaceAll(path, "%j", strconv.FormatInt(job.JobID, 10))
	path = strings.ReplaceAll(path, "%u", job.UserName)
	path = strings.ReplaceAll(path, "%x", job.Name)
	return path
}

// parseNodes normalises the node list and derives the partition map
// (partition name to member hostnames).
func parseNodes(raws []rawNode) (map[string]types.SlurmNode, map[string][]string) {
	nodes := make(map[string]types.SlurmNode, len(raws))
	partitions := make(map[string][]string)

	for _, raw := range raws {
		nodes[raw.Hostname] = types.SlurmNode{
			Hostname:   raw.Hostname,
			CPUs:       int(raw.CPUs),
			Cores:      int(raw.Cores),
			Threads:    int(raw.Threads),
			State:      []string(raw.State),
			StateFlags: raw.StateFlags,
			Partitions: raw.Partitions,
			Sockets:    int(raw.Sockets),
			RealMemory: int64(raw.RealMemory),
		}
		for _, partition := range raw.Partitions {
			partitions[partition] = append(partitions[partition], raw.Hostname)
		}
	}

	return nodes, partitions
}

// toTime converts an epoch-seconds value to UTC time. The scheduler
// reports unset timestamps as zero.
func toTime(ts FlexInt) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(int64(ts), 0).UTC()
	return &t
}
