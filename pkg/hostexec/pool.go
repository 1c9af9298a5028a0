package hostexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/megware/xbatctld/pkg/log"
)

// Timing of the FIFO protocol. The host watcher needs a moment to execute
// the command and write the result files; polling starts after an initial
// sleep and then retries on a fixed interval.
const (
	DefaultAcquireTimeout = 15 * time.Second
	DefaultSendTimeout    = 15 * time.Second
	DefaultPollInitial    = 250 * time.Millisecond
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultPollRetries    = 30
)

// pipePattern matches the request FIFOs pre-created by the host watcher.
var pipePattern = regexp.MustCompile(`^host-pipe-xbatctld-\d+$`)

// artifactPattern matches leftover result files from previous runs
// (uuidv4 correlation id plus one of the three result suffixes).
var artifactPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}_(stdout|stderr|ret)$`)

// Executor runs a command line on the host and returns its exit code and
// output (stdout on success, stderr on failure). An exit code of -1 with an
// empty body signals a transport failure: no FIFO slot, send timeout, or a
// missing result file. Callers decide whether to retry.
type Executor interface {
	Execute(ctx context.Context, cmdline string) (int, string)
}

// Pool serialises host commands onto a fixed set of named FIFOs shared with
// the host watcher. Concurrency is bounded by the number of FIFOs found at
// construction; callers block on a weighted semaphore until a slot frees up
// or the acquisition timeout expires.
type Pool struct {
	dir  string
	size int

	sem *semaphore.Weighted

	mu    sync.Mutex
	pipes []string

	acquireTimeout time.Duration
	sendTimeout    time.Duration
	pollInitial    time.Duration
	pollInterval   time.Duration
	pollRetries    int
}

// NewPool discovers the request FIFOs in dir and builds the pipe pool.
// Returns an error when the directory is missing or holds no valid FIFOs;
// the controller cannot reach the host without them.
func NewPool(dir string) (*Pool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipe directory %s: %w", dir, err)
	}

	var pipes []string
	for _, entry := range entries {
		if !pipePattern.MatchString(entry.Name()) {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil || info.Mode()&os.ModeNamedPipe == 0 {
			continue
		}
		pipes = append(pipes, filepath.Join(dir, entry.Name()))
	}

	if len(pipes) == 0 {
		return nil, fmt.Errorf("no valid host pipes found in %s", dir)
	}

	logger := log.WithComponent("hostexec")
	logger.Debug().
		Int("pipes", len(pipes)).Str("dir", dir).Msg("pipe pool initialized")

	return &Pool{
		dir:            dir,
		size:           len(pipes),
		sem:            semaphore.NewWeighted(int64(len(pipes))),
		pipes:          pipes,
		acquireTimeout: DefaultAcquireTimeout,
		sendTimeout:    DefaultSendTimeout,
		pollInitial:    DefaultPollInitial,
		pollInterval:   DefaultPollInterval,
		pollRetries:    DefaultPollRetries,
	}, nil
}

// Size returns the number of FIFOs in the pool, the upper bound on
// concurrent host commands.
func (p *Pool) Size() int {
	return p.size
}

// acquire blocks until a FIFO is free or the acquisition timeout expires.
func (p *Pool) acquire(ctx context.Context) (string, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire pipe: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pipes) == 0 {
		// Cannot happen while the semaphore accounting is intact.
		p.sem.Release(1)
		return "", fmt.Errorf("no pipe available despite free slot")
	}
	pipe := p.pipes[len(p.pipes)-1]
	p.pipes = p.pipes[:len(p.pipes)-1]
	return pipe, nil
}

// release returns a FIFO to the pool and frees its semaphore slot.
func (p *Pool) release(pipe string) {
	p.mu.Lock()
	p.pipes = append(p.pipes, pipe)
	p.mu.Unlock()
	p.sem.Release(1)
}

// ClearRunFiles removes stale result files left behind by a previous
// controller run. Called once at daemon start.
func ClearRunFiles(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !artifactPattern.MatchString(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logger := log.WithComponent("hostexec")
		logger.Debug().
			Int("files", removed).Msg("removed stale result files")
	}
}
