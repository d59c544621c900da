package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, sqliteConfig(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn, nil))

	for _, table := range []string{"schema_migrations", "schedule", "job", "runtemplate"} {
		var n int
		require.NoError(t, conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n))
		assert.Equal(t, 1, n, "table %s", table)
	}

	t.Run("is idempotent", func(t *testing.T) {
		require.NoError(t, Migrate(ctx, conn, nil))

		var versions int
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
		assert.Equal(t, 4, versions)
	})
}

func TestMigrate_RejectsOtherEngines(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	err = Migrate(context.Background(), NewConn(sqlDB, postgresDialect{}), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is pgsql")
}
