package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/megware/xbatctld/api/rpc"
	"github.com/megware/xbatctld/pkg/api"
	"github.com/megware/xbatctld/pkg/paths"
	"github.com/megware/xbatctld/pkg/processing"
	"github.com/megware/xbatctld/pkg/registration"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/submitter"
	"github.com/megware/xbatctld/pkg/types"
)

const bufconnSize = 1 << 20

// Harness runs a complete controller in-process: memory store, simulated
// scheduler, submitter, watcher supervision, optional registration loop
// and the RPC server on an in-memory listener. Tests reach it through the
// production wire path.
type Harness struct {
	Config *HarnessConfig
	Store  *store.Memory
	Slurm  *SlurmSim
	Client *Client

	t          TestingT
	root       string
	users      *userDirectory
	supervisor *processing.Supervisor
	loop       *registration.Loop
	server     *api.Server
	conn       *grpc.ClientConn
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
}

// NewHarness starts a controller for one test. Shutdown is registered as
// a test cleanup.
func NewHarness(t TestingT, config *HarnessConfig) *Harness {
	t.Helper()

	if config == nil {
		config = DefaultHarnessConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemory()
	sim := NewSlurmSim(config.FirstJobID)
	directory := newUserDirectory()

	watcher := processing.NewWatcher(st, sim, "")
	watcher.SetCadence(config.WatchInterval, config.MinIterations)

	h := &Harness{
		Config:     config,
		Store:      st,
		Slurm:      sim,
		t:          t,
		root:       t.TempDir(),
		users:      directory,
		supervisor: processing.NewSupervisor(watcher),
		ctx:        ctx,
		cancel:     cancel,
	}

	h.server = api.NewServer(ctx, api.Options{
		Store:              st,
		Scheduler:          sim,
		Users:              directory,
		Submitter:          submitter.New(st, sim, ownerIsIssuer{}, ""),
		CLIMonitorInterval: config.CLIMonitorInterval,
	})

	lis := bufconn.Listen(bufconnSize)
	go func() { _ = h.server.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///controller",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		cancel()
		t.Fatalf("Failed to connect to in-process controller: %v", err)
	}
	h.conn = conn
	h.Client = NewClient(rpc.NewControllerClient(conn))

	if config.RunRegistration {
		h.loop = registration.New(st, sim, h.supervisor)
		h.loop.SetInterval(config.ScanInterval)
		h.loop.Start(ctx)
	}

	t.Cleanup(h.Stop)
	return h
}

// Stop tears the controller down: loops first, then the client connection
// so the server can drain, then the watchers.
func (h *Harness) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		if h.loop != nil {
			h.loop.Stop()
		}
		if h.conn != nil {
			_ = h.conn.Close()
		}
		h.server.Stop()
		h.supervisor.Wait()
	})
}

// Dispatch starts a watcher for the benchmark directly, bypassing the
// registration loop.
func (h *Harness) Dispatch(runNr int64) bool {
	return h.supervisor.Dispatch(h.ctx, runNr)
}

// AddUser registers an account with an on-disk home tree under the
// harness root and returns its profile. The issuer resolves through the
// RPC layer and through the document store alike.
func (h *Harness) AddUser(name string) *types.UserProfile {
	h.t.Helper()

	uid := int64(os.Getuid())
	gid := int64(os.Getgid())
	if uid == 0 {
		// Running as root: chown succeeds for any owner, and the profile
		// must not carry uid 0 to pass validation.
		uid, gid = 1000, 1000
	}

	profile := &types.UserProfile{
		UserName:      name,
		UID:           uid,
		GID:           gid,
		HomeDirectory: filepath.Join(h.root, "home", name),
	}
	if err := os.MkdirAll(profile.HomeDirectory, 0o755); err != nil {
		h.t.Fatalf("Failed to create home for %s: %v", name, err)
	}

	h.users.put(profile)
	h.Store.PutUserProfile(profile)
	return profile
}

// SeedConfiguration stores a benchmark configuration document with one
// jobscript variant and the given iteration count, enough to exercise
// expansion end to end.
func (h *Harness) SeedConfiguration(id string, iterations int) {
	h.Store.PutConfiguration(id, map[string]any{
		"configurationName": "stream",
		"configuration": map[string]any{
			"configurationName": "stream",
			"iterations":        iterations,
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
	})
}

// WriteJobOutput places a combined output file where the scheduler would
// write it for a submitted job of the given user.
func (h *Harness) WriteJobOutput(profile *types.UserProfile, jobID int64, content string) {
	h.t.Helper()

	dirs := paths.ForHome(profile.HomeDirectory, "")
	if err := os.MkdirAll(dirs.Internal.Outputs, 0o755); err != nil {
		h.t.Fatalf("Failed to create output directory: %v", err)
	}
	path := filepath.Join(dirs.Internal.Outputs, fmt.Sprintf("%d.out", jobID))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("Failed to write job output: %v", err)
	}
}

// userDirectory resolves issuers the way the host user directory would.
type userDirectory struct {
	mu       sync.Mutex
	profiles map[string]*types.UserProfile
}

func newUserDirectory() *userDirectory {
	return &userDirectory{profiles: make(map[string]*types.UserProfile)}
}

func (d *userDirectory) put(profile *types.UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.UserName] = profile
}

// Resolve returns the registered profile or an error for unknown accounts.
func (d *userDirectory) Resolve(_ context.Context, username string) (*types.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.profiles[username]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", username)
	}
	cp := *profile
	return &cp, nil
}

// ownerIsIssuer treats every work directory as already owned by the
// issuer, so harness runs do not chown directories the test runner may
// not own.
type ownerIsIssuer struct{}

func (ownerIsIssuer) DirOwnedByUser(context.Context, string, string, int64, int64) bool {
	return true
}
