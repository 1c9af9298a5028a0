package hostexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
)

// Execute sends a command line to the host watcher over one of the pooled
// FIFOs and waits for the result files. Returns the command's exit code and
// its stdout (exit code 0) or stderr (non-zero). Transport failures return
// (-1, "") and are never retried here; retry policy belongs to callers.
func (p *Pool) Execute(ctx context.Context, cmdline string) (int, string) {
	logger := log.WithComponent("hostexec")
	timer := metrics.NewTimer()

	pipe, err := p.acquire(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("unable to acquire pipe")
		metrics.HostCommandsTotal.WithLabelValues("no_pipe").Inc()
		return -1, ""
	}

	id := uuid.New().String()
	outStdout := filepath.Join(p.dir, id+"_stdout")
	outStderr := filepath.Join(p.dir, id+"_stderr")
	outRet := filepath.Join(p.dir, id+"_ret")

	// Result files are removed on every exit path so that aborted commands
	// do not accumulate artefacts in the pipe directory.
	cleanup := func() {
		for _, f := range []string{outStdout, outStderr, outRet} {
			_ = os.Remove(f)
		}
	}
	defer cleanup()

	frame := fmt.Sprintf("%s;%s\n", id, cmdline)
	err = p.send(ctx, pipe, frame)
	// The FIFO is only tied up while the frame is in flight; the host
	// watcher reads it immediately, so the slot frees up before polling.
	p.release(pipe)

	if err != nil {
		logger.Error().Err(err).Str("command", cmdline).Msg("pipe send failed")
		metrics.HostCommandsTotal.WithLabelValues("send_timeout").Inc()
		return -1, ""
	}

	logger.Debug().Str("id", id).Str("command", cmdline).Msg("command sent to host")

	if !p.waitForResult(ctx, outRet) {
		logger.Error().Str("id", id).Str("command", cmdline).
			Msg("could not read back results from host")
		metrics.HostCommandsTotal.WithLabelValues("no_result").Inc()
		return -1, ""
	}

	retData, err := os.ReadFile(outRet)
	if err != nil {
		logger.Error().Err(err).Str("id", id).Msg("failed to read return code")
		metrics.HostCommandsTotal.WithLabelValues("no_result").Inc()
		return -1, ""
	}

	retCode, err := strconv.Atoi(strings.TrimSpace(string(retData)))
	if err != nil {
		logger.Error().Err(err).Str("id", id).Msg("invalid return code from host")
		metrics.HostCommandsTotal.WithLabelValues("no_result").Inc()
		return -1, ""
	}

	timer.ObserveDuration(metrics.HostCommandDuration)

	if retCode == 0 {
		data, _ := os.ReadFile(outStdout)
		metrics.HostCommandsTotal.WithLabelValues("ok").Inc()
		return 0, strings.TrimRight(string(data), "\n")
	}

	data, _ := os.ReadFile(outStderr)
	stderr := strings.TrimRight(string(data), "\n")
	logger.Error().Int("code", retCode).Str("command", cmdline).
		Str("stderr", stderr).Msg("host command failed")
	metrics.HostCommandsTotal.WithLabelValues("error").Inc()
	return retCode, stderr
}

// send writes the request frame to the FIFO. The write end is opened
// non-blocking so a missing host watcher cannot hang the controller
// (the open fails with ENXIO until a reader attaches); open attempts are
// retried until the send timeout expires.
func (p *Pool) send(ctx context.Context, pipe, frame string) error {
	deadline := time.Now().Add(p.sendTimeout)

	for {
		f, err := os.OpenFile(pipe, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			_, werr := f.WriteString(frame)
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("failed to write to pipe: %w", werr)
			}
			return cerr
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("no host watcher on pipe %s: %w", pipe, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// waitForResult polls for the _ret file with an initial sleep and a bounded
// number of retries.
func (p *Pool) waitForResult(ctx context.Context, path string) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.pollInitial):
	}

	for retries := 0; retries <= p.pollRetries; retries++ {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.pollInterval):
		}
	}
	return false
}
