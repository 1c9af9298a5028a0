package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/megware/xbatctld/pkg/api"
	"github.com/megware/xbatctld/pkg/config"
	"github.com/megware/xbatctld/pkg/hostexec"
	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
	"github.com/megware/xbatctld/pkg/processing"
	"github.com/megware/xbatctld/pkg/questdb"
	"github.com/megware/xbatctld/pkg/registration"
	"github.com/megware/xbatctld/pkg/slurm"
	"github.com/megware/xbatctld/pkg/store"
	"github.com/megware/xbatctld/pkg/submitter"
	"github.com/megware/xbatctld/pkg/types"
	"github.com/megware/xbatctld/pkg/users"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller daemon",
	Long: `Run the xbat controller daemon.

The daemon serves the gRPC control surface, expands and submits benchmarks,
follows scheduler jobs to completion and maintains the document and
time-series stores. Configuration is resolved from defaults, the optional
YAML file and XBATCTLD_* environment variables; --log-level and --demo
take precedence over both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("demo") {
			cfg.Demo, _ = cmd.Flags().GetBool("demo")
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the YAML configuration file")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("demo", false, "Run against canned data without host bridge and stores")
}

func serve(cfg config.Config) error {
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("daemon")

	logger.Info().
		Str("version", Version).
		Str("build", cfg.Build).
		Bool("demo", cfg.Demo).
		Msg("Starting xbatctld")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)

	// Metrics and health endpoints come up first so orchestration probes
	// can watch the rest of the start sequence.
	metrics.SetVersion(Version)
	healthServer := api.NewHealthServer(cfg.ListenMetrics)
	go func() {
		if err := healthServer.Start(); err != nil {
			errCh <- fmt.Errorf("metrics listener failed: %w", err)
		}
	}()

	// Document store. Demo deployments run entirely in memory.
	var st store.Store
	if cfg.Demo {
		st = store.NewMemory()
		metrics.RegisterComponent("mongodb", true, "in-memory store (demo)")
	} else {
		mongo, err := store.NewMongo(ctx, cfg.MongoDB, cfg.LockDir())
		if err != nil {
			return fmt.Errorf("failed to connect to document store: %w", err)
		}
		st = mongo
		metrics.RegisterComponent("mongodb", true, "connected")
	}

	collector := metrics.NewCollector(st)
	collector.Start()

	// Time-series store. An unreachable QuestDB degrades queries but must
	// not keep the controller down, so the ping only feeds health.
	var gateway *questdb.Gateway
	if !cfg.Demo {
		g, err := questdb.New(ctx, cfg.QuestDSN(), st)
		if err != nil {
			return fmt.Errorf("failed to open time-series store: %w", err)
		}
		gateway = g
		if err := g.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("Time-series store unreachable")
			metrics.RegisterComponent("questdb", false, err.Error())
		} else {
			metrics.RegisterComponent("questdb", true, "connected")
		}
		g.Maintenance(ctx)
	}

	// Host bridge. Demo deployments ship no FIFOs; host commands fail fast
	// through a stub instead.
	var exec hostexec.Executor
	if cfg.Demo {
		exec = demoExecutor{}
	} else {
		hostexec.ClearRunFiles(cfg.PipeDir())
		pool, err := hostexec.NewPool(cfg.PipeDir())
		if err != nil {
			return fmt.Errorf("failed to initialize host bridge: %w", err)
		}
		exec = pool
		logger.Info().Int("pipes", pool.Size()).Msg("Host bridge initialized")
	}

	scheduler := slurm.NewClient(ctx, exec, cfg.UseTestdata())
	if version := scheduler.Version(); version == (types.SlurmVersion{}) {
		metrics.RegisterComponent("scheduler", false, "version probe failed")
	} else {
		metrics.RegisterComponent("scheduler", true,
			fmt.Sprintf("slurm %d.%d.%d", version.Major, version.Minor, version.Micro))
	}

	resolver := users.NewResolver(exec, cfg.Demo)
	submit := submitter.New(st, scheduler, resolver, cfg.HomeMountPrefix)
	supervisor := processing.NewSupervisor(processing.NewWatcher(st, scheduler, cfg.HomeMountPrefix))

	opts := api.Options{
		Store:              st,
		Scheduler:          scheduler,
		Users:              resolver,
		Submitter:          submit,
		CLIMonitorInterval: cfg.CLIMonitorInterval,
	}
	if gateway != nil {
		opts.Purger = gateway
	}
	apiServer := api.NewServer(ctx, opts)

	lis, err := net.Listen("tcp", cfg.ListenRPC)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenRPC, err)
	}
	go func() {
		if err := apiServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("rpc server failed: %w", err)
		}
	}()
	metrics.RegisterComponent("rpc", true, "listening on "+cfg.ListenRPC)

	// The registration loop binds queue jobs to their benchmarks. Canned
	// queue views never match live run numbers, so only production runs it.
	var loop *registration.Loop
	if cfg.Build == config.BuildProd && !cfg.Demo {
		loop = registration.New(st, scheduler, supervisor)
		loop.Start(ctx)
		logger.Info().Msg("Registration loop started")
	}

	logger.Info().
		Str("rpc_addr", cfg.ListenRPC).
		Str("metrics_addr", cfg.ListenMetrics).
		Msg("xbatctld is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Component failed, shutting down")
	}

	// A second signal aborts the drain.
	go func() {
		<-sigCh
		logger.Warn().Msg("Forced shutdown")
		os.Exit(1)
	}()

	cancel()
	if loop != nil {
		loop.Stop()
	}
	apiServer.Stop()
	supervisor.Wait()
	collector.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Could not stop metrics listener")
	}
	if gateway != nil {
		gateway.Close()
	}
	if err := st.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Could not close document store")
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// demoExecutor stands in for the host bridge in demo deployments. Scheduler
// reads are served from canned captures; anything that would reach the host
// fails with a clear message instead.
type demoExecutor struct{}

func (demoExecutor) Execute(context.Context, string) (int, string) {
	return 1, "host bridge unavailable in demo mode"
}
