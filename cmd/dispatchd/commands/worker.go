package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/schedule"
	"github.com/teranos/dispatchd/pulse/supervisor"
)

// WorkerCmd is the entry point of an isolated worker process. The daemon
// launches it; it is not meant to be run by hand.
var WorkerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one schedule entry (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	WorkerCmd.Flags().Int64("entry", 0, "Schedule entry id")
	WorkerCmd.Flags().Int64("job", 0, "Job id")
	_ = WorkerCmd.MarkFlagRequired("entry")
	_ = WorkerCmd.MarkFlagRequired("job")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	entryID, _ := cmd.Flags().GetInt64("entry")
	jobRef, _ := cmd.Flags().GetInt64("job")

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if id := os.Getenv(supervisor.WorkerIDEnv); id != "" {
		ctx = logger.WithWorkerID(ctx, id)
	}

	log := logger.LoggerFromContext(ctx, logger.ComponentLogger("pulse.worker"))
	res, err := newWorker(cfg, log).Execute(ctx, schedule.Entry{ID: entryID, JobRef: jobRef})
	if err != nil {
		return &ExitError{Code: 1}
	}
	log.Debugw("Worker done",
		logger.FieldEntryID, entryID,
		logger.FieldState, string(res.Outcome),
		logger.FieldAttempt, res.Attempts)
	return nil
}
