package db

import (
	"context"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate creates the schedule, job and runtemplate tables on a SQLite store.
// Other engines are provisioned by the application that owns the schema.
// If log is provided, logs migration progress; otherwise operates silently.
func Migrate(ctx context.Context, conn *Conn, log *zap.SugaredLogger) error {
	if conn.Dialect().Engine() != SQLite {
		return errors.WithHint(
			errors.Newf("bundled migrations target sqlite, store is %s", conn.Dialect().Engine()),
			"create the schedule table with the application's own schema tooling")
	}

	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	// 000_create_schema_migrations.sql runs first
	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	applied := 0
	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]

		var exists bool
		err := conn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			if version != "000" {
				return errors.Newf("schema_migrations table missing, but migration is not 000: %s", filename)
			}
		} else if exists {
			if log != nil {
				log.Debugw("Skipping migration (already applied)", "migration", filename)
			}
			continue
		}

		sqlBytes, err := migrations.ReadFile(filepath.Join("sqlite/migrations", filename))
		if err != nil {
			return errors.Wrapf(err, "read %s", filename)
		}

		if log != nil {
			log.Infow("Applying migration", "migration", filename, "version", version)
		}

		tx, err := conn.DB().BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", filename)
		}

		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", filename)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", filename)
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", filename)
		}
		applied++
	}

	if log != nil {
		logger.AddDBSymbol(log).Infow("Migrations complete",
			"total_migrations", len(migrationFiles),
			"applied", applied)
	}

	return nil
}
