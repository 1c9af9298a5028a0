package slurm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitClient(t *testing.T, fn func(string) (int, string)) (*Client, *fakeExec) {
	t.Helper()
	exec := &fakeExec{fn: func(cmdline string) (int, string) {
		if fn != nil {
			return fn(cmdline)
		}
		return 127, ""
	}}
	// Version probe answered with an empty envelope; submission does not
	// depend on it.
	probe := exec.fn
	exec.fn = func(cmdline string) (int, string) {
		if cmdline == "sinfo --json" {
			return 0, "{}"
		}
		return probe(cmdline)
	}
	return NewClient(context.Background(), exec, false), exec
}

func TestSubmitComposesCommand(t *testing.T) {
	var seen string
	c, _ := submitClient(t, func(cmdline string) (int, string) {
		seen = cmdline
		return 0, "Submitted batch job 4242\n"
	})

	jobID, err := c.Submit(context.Background(), "alice",
		"/home/alice/.xbat/jobscripts/4242.sh", "/home/alice",
		map[string]any{"nodelist": "node[01-02]"},
		map[string]string{"OMP_NUM_THREADS": "8", "N": "1024"})
	require.NoError(t, err)
	assert.Equal(t, int64(4242), jobID)

	expected := `su - alice -c "sbatch --constraint xbat --chdir=/home/alice ` +
		`--exclusive --wait-all-nodes=1 --export=N=1024,OMP_NUM_THREADS=8 ` +
		`--nodelist=node[01-02] /home/alice/.xbat/jobscripts/4242.sh"`
	assert.Equal(t, expected, seen)
}

func TestSubmitWithoutOptionalArguments(t *testing.T) {
	var seen string
	c, _ := submitClient(t, func(cmdline string) (int, string) {
		seen = cmdline
		return 0, "Submitted batch job 7 on cluster demo"
	})

	jobID, err := c.Submit(context.Background(), "bob", "/home/bob/.xbat/jobscripts/7.sh",
		"/home/bob", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), jobID)

	assert.Equal(t, `su - bob -c "sbatch --constraint xbat --chdir=/home/bob `+
		`--exclusive --wait-all-nodes=1 /home/bob/.xbat/jobscripts/7.sh"`, seen)
}

func TestSubmitEmptyNodelistOmitted(t *testing.T) {
	var seen string
	c, _ := submitClient(t, func(cmdline string) (int, string) {
		seen = cmdline
		return 0, "Submitted batch job 8"
	})

	_, err := c.Submit(context.Background(), "bob", "/s.sh", "/home/bob",
		map[string]any{"nodelist": ""}, nil)
	require.NoError(t, err)
	assert.NotContains(t, seen, "--nodelist")
}

func TestSubmitCommandFailure(t *testing.T) {
	c, _ := submitClient(t, func(string) (int, string) {
		return 1, "sbatch: error: Batch job submission failed"
	})

	_, err := c.Submit(context.Background(), "bob", "/s.sh", "/home/bob", nil, nil)
	assert.Error(t, err)
}

func TestSubmitUnparsableReply(t *testing.T) {
	c, _ := submitClient(t, func(string) (int, string) {
		return 0, "submission accepted"
	})

	_, err := c.Submit(context.Background(), "bob", "/s.sh", "/home/bob", nil, nil)
	assert.Error(t, err)
}
