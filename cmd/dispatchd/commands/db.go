package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/logger"
	"github.com/teranos/dispatchd/pulse/schedule"
	"github.com/teranos/dispatchd/sym"
)

// DbCmd groups store maintenance commands.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Store maintenance",
	Long: sym.DB + ` db - Store maintenance

Examples:
  dispatchd db migrate    # Create the schema in a SQLite store
  dispatchd db check      # Verify connectivity and the schedule table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded migrations (SQLite only)",
	RunE:  runDbMigrate,
}

var dbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the store is reachable and count due entries",
	RunE:  runDbCheck,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbCheckCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	log := logger.ComponentLogger("db")
	conn, err := db.Open(cmd.Context(), cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(cmd.Context(), conn, log); err != nil {
		return err
	}
	pterm.Success.Println("Migrations applied")
	return nil
}

func runDbCheck(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	log := logger.ComponentLogger("db")

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		pterm.Error.Printf("Cannot connect (%s error)\n", db.Classify(err))
		return err
	}
	store := schedule.NewStore(conn, log, schedule.WithSuppressedTypeWarning(cfg.Daemon.SuppressTypeWarning))
	defer store.Close()

	if err := store.CheckSchema(ctx); err != nil {
		return err
	}
	due, err := store.Due(ctx)
	if err != nil {
		pterm.Error.Printf("Due query failed (%s error)\n", db.Classify(err))
		return err
	}

	pterm.Success.Printf("%s store reachable, %d due entries\n", conn.Dialect().Engine(), len(due))
	return nil
}
