package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/daemon"
	"github.com/teranos/dispatchd/pulse/metrics"
	"github.com/teranos/dispatchd/pulse/schedule"
	"github.com/teranos/dispatchd/pulse/supervisor"
	"github.com/teranos/dispatchd/sym"
)

// DaemonCmd runs the dispatch loop.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Pulse + " Run the dispatch loop",
	Long: sym.Pulse + ` Run the dispatch loop.

Every cycle the daemon queries the schedule for due entries and launches one
isolated worker per entry, up to MULTIFLEXI_MAX_PARALLEL at a time. With
MULTIFLEXI_DAEMONIZE=false (or --once) it makes a single pass and exits.

SIGINT/SIGTERM stop polling and wait for running workers.

Exit status is 0 on a clean stop, including the memory soft limit, and 1
when the store cannot be reached or rejects the credentials.`,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().Bool("once", false, "Make one polling pass and exit (overrides MULTIFLEXI_DAEMONIZE)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	if once, _ := cmd.Flags().GetBool("once"); once {
		cfg.Daemon.Daemonize = false
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	log := logger.ComponentLogger("pulse.daemon")
	dbLog := logger.ComponentLogger("db")
	supLog := logger.ComponentLogger("pulse.supervisor")

	w := newWorker(cfg, logger.ComponentLogger("pulse.worker"))
	inline := func(ctx context.Context, entry schedule.Entry) error {
		_, err := w.Execute(ctx, entry)
		return err
	}

	var launcher supervisor.Launcher
	if cfg.Daemon.Isolation {
		var opts []supervisor.LauncherOption
		if envFile := envFileFlag(cmd); envFile != "" {
			opts = append(opts, supervisor.WithEnvFile(envFile))
		}
		l, err := supervisor.NewExecLauncher(supLog, opts...)
		if err != nil {
			supLog.Warnw("Isolation unavailable, jobs run in-process", logger.FieldError, err)
		} else {
			launcher = l
		}
	}

	sup := supervisor.New(launcher, inline, supervisorConfig(cfg), supLog)

	loop := daemon.New(
		daemon.ScheduleStoreOpener(db.Opener(cfg.Database, dbLog), dbLog,
			schedule.WithSuppressedTypeWarning(cfg.Daemon.SuppressTypeWarning)),
		sup,
		daemon.Config{
			Daemonize:         cfg.Daemon.Daemonize,
			CyclePause:        cfg.Daemon.CyclePauseDuration(),
			MemoryLimit:       cfg.Daemon.MemoryLimitBytes(),
			ConnectAttempts:   cfg.Daemon.ConnectAttempts,
			ConnectRetryDelay: cfg.Daemon.ConnectRetryDelayDuration(),
			DrainTimeout:      supervisor.DefaultDrainTimeout,
		},
		log,
		daemon.WithMemoryProbe(supervisor.ResidentMemory),
	)

	if cfg.Daemon.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.Daemon.MetricsAddr, logger.ComponentLogger("metrics"),
			metrics.WithSystem(func() interface{} { return sup.SystemMetrics() }))
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Warnw("Metrics server stopped", logger.FieldError, err)
			}
		}()
	}

	if watcher := watchConfig(cmd, log); watcher != nil {
		watcher.OnReload(func(c *am.Config) error {
			loop.SetCyclePause(c.Daemon.CyclePauseDuration())
			sup.Configure(supervisorConfig(c))
			return nil
		})
		watcher.Start()
		defer watcher.Stop()
	}

	out := loop.Run(ctx)
	if out.ExitCode != 0 {
		exitErr := &ExitError{Code: out.ExitCode, Reason: out.Reason}
		if out.Err != nil {
			exitErr.Reason = out.Err.Error()
		}
		return exitErr
	}
	return nil
}

func supervisorConfig(cfg *am.Config) supervisor.Config {
	return supervisor.Config{
		MaxParallel: cfg.Daemon.MaxParallel,
		Isolation:   cfg.Daemon.Isolation,
		LaunchRate:  cfg.Daemon.LaunchRate,
	}
}

// watchConfig watches the env file in use, if any.
func watchConfig(cmd *cobra.Command, log *zap.SugaredLogger) *am.ConfigWatcher {
	path := envFileFlag(cmd)
	if path == "" {
		path = am.DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		log.Warnw("Config hot reload disabled", logger.FieldError, err)
		return nil
	}
	return watcher
}
