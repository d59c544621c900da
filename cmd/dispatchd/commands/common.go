package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/worker"
	"github.com/teranos/dispatchd/runner"
)

// ExitError ends the process with Code. Reason, when set, goes to stderr.
type ExitError struct {
	Code   int
	Reason string
}

func (e *ExitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("exit %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// AddGlobalFlags registers the flags every command reads.
func AddGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v debug)")
	root.PersistentFlags().String("env-file", "", "Read configuration from this .env file (default ./.env when present)")
}

func envFileFlag(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("env-file")
	return path
}

// bootstrap loads configuration and reconfigures the global logger from it.
func bootstrap(cmd *cobra.Command) (*am.Config, error) {
	cfg, err := am.Load(envFileFlag(cmd))
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(cfg.Log.JSON); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	verbosity, _ := cmd.Flags().GetCount("verbose")
	logger.SetLevel(logger.ResolveLevel(verbosity, cfg.Log.AppDebug))

	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newWorker wires a worker that runs jobs through the shell runner.
func newWorker(cfg *am.Config, log *zap.SugaredLogger) *worker.Worker {
	dbLog := logger.ComponentLogger("db")
	return worker.New(
		db.Opener(cfg.Database, dbLog),
		func(h *db.Handle) runner.JobRunner {
			return runner.NewShellRunner(h, "", logger.ComponentLogger("runner"))
		},
		log,
		worker.WithPruneMissingJobs(cfg.Daemon.PruneMissingJobs),
	)
}
