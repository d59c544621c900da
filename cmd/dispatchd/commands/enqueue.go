package commands

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/schedule"
)

// EnqueueCmd adds a schedule entry.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue <job-id>",
	Short: "Schedule a job",
	Long: `Schedule a job to run once a point in time has passed.

Without flags the job is due immediately. --after takes an RFC 3339
timestamp; --interval takes a MultiFlexi interval code and schedules the
next run of that interval:

  i  every minute     h  hourly     d  daily
  w  weekly           m  monthly    y  yearly

Examples:
  dispatchd enqueue 42
  dispatchd enqueue 42 --after 2024-05-01T08:00:00Z
  dispatchd enqueue 42 --interval h`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() {
	EnqueueCmd.Flags().String("after", "", "RFC 3339 timestamp after which the job is due")
	EnqueueCmd.Flags().String("interval", "", "Interval code (i, h, d, w, m, y)")
	EnqueueCmd.MarkFlagsMutuallyExclusive("after", "interval")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	jobRef, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.WithHint(errors.Newf("invalid job id %q", args[0]), "job ids are positive integers")
	}
	afterFlag, _ := cmd.Flags().GetString("after")
	interval, _ := cmd.Flags().GetString("interval")

	after, err := resolveAfter(time.Now().UTC(), afterFlag, interval)
	if err != nil {
		return err
	}

	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	dbLog := logger.ComponentLogger("db")
	conn, err := db.Open(ctx, cfg.Database, dbLog)
	if err != nil {
		return err
	}
	store := schedule.NewStore(conn, dbLog, schedule.WithSuppressedTypeWarning(cfg.Daemon.SuppressTypeWarning))
	defer store.Close()

	id, err := store.Add(ctx, jobRef, after)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Job #%d scheduled as entry %d, due after %s\n", jobRef, id, after.Format(time.RFC3339))
	return nil
}

// resolveAfter picks the due time from the flags; now when neither is set.
func resolveAfter(now time.Time, after, interval string) (time.Time, error) {
	switch {
	case after != "":
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return time.Time{}, errors.WithHint(errors.Wrap(err, "invalid --after"), "use RFC 3339, e.g. 2024-05-01T08:00:00Z")
		}
		return t.UTC(), nil
	case interval != "":
		return schedule.NextRun(interval, now)
	default:
		return now, nil
	}
}
