package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/runner"
)

// ExecCmd runs a single job in the foreground, outside the schedule.
var ExecCmd = &cobra.Command{
	Use:   "exec <job-id>",
	Short: "Run one job by id",
	Long: `Run one job by id in the foreground.

The job's output is printed and dispatchd exits with the job's exit code.
The schedule is not touched.

Examples:
  dispatchd exec 42`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	jobRef, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.WithHint(errors.Newf("invalid job id %q", args[0]), "job ids are positive integers")
	}

	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	handle := db.NewHandle(db.Opener(cfg.Database, logger.ComponentLogger("db")), nil)
	defer handle.Close()

	r := runner.NewShellRunner(handle, "", logger.ComponentLogger("runner"))
	res, err := runJob(ctx, r, jobRef)
	if errors.Is(err, errors.ErrJobNotFound) {
		pterm.Error.Printf("Job #%d does not exist\n", jobRef)
		return &ExitError{Code: 1}
	}
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
	if res.ExitCode != 0 {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// runJob resolves, runs and cleans up one job.
func runJob(ctx context.Context, r runner.JobRunner, jobRef int64) (runner.ExecutionResult, error) {
	exists, err := r.Exists(ctx, jobRef)
	if err != nil {
		return runner.ExecutionResult{}, err
	}
	if !exists {
		return runner.ExecutionResult{}, errors.NewJobNotFoundError(jobRef)
	}

	res, err := r.Run(ctx, jobRef)
	if err != nil {
		return res, err
	}
	if err := r.Cleanup(ctx, jobRef); err != nil {
		logger.Warnw("Job cleanup failed", logger.FieldJobID, jobRef, logger.FieldError, err)
	}
	return res, nil
}
