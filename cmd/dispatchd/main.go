package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/cmd/dispatchd/commands"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "dispatchd - MultiFlexi due-job dispatch daemon",
	Long: `dispatchd - MultiFlexi due-job dispatch daemon.

Polls the MultiFlexi schedule table for entries whose time has come and runs
each referenced job in its own worker process, then retires the entry.

Available commands:
  daemon   - Run the dispatch loop
  exec     - Run one job by id in the foreground
  enqueue  - Schedule a job
  db       - Store maintenance
  config   - Show or validate configuration
  version  - Show version information

Examples:
  dispatchd daemon                    # Poll until stopped
  dispatchd daemon --once             # One polling pass, then exit
  dispatchd exec 42                   # Run job #42 now
  dispatchd enqueue 42 --interval d   # Schedule job #42 for tomorrow's run
  dispatchd config show               # Show effective configuration`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	commands.AddGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.ExecCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err == nil {
		return
	}

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Reason != "" {
			fmt.Fprintln(os.Stderr, exitErr.Reason)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
	os.Exit(1)
}
