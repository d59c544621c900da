package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/dispatchd/db"
	"github.com/teranos/dispatchd/errors"
)

func mockStore(t *testing.T, engine db.Engine, log *zap.SugaredLogger) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	dialect, err := db.DialectFor(engine)
	require.NoError(t, err)
	return NewStore(db.NewConn(sqlDB, dialect), log, WithSuppressedTypeWarning(true)), mock
}

func TestDue_EngineQueries(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		engine  db.Engine
		columns string
		due     string
	}{
		{
			engine:  db.MySQL,
			columns: "SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
			due:     "SELECT `id`, `job`, `after` FROM `schedule` WHERE UNIX_TIMESTAMP(`after`) < UNIX_TIMESTAMP(NOW()) ORDER BY `after` ASC, `id` ASC",
		},
		{
			engine:  db.PostgreSQL,
			columns: "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
			due:     `SELECT "id", "job", "after" FROM "schedule" WHERE EXTRACT(EPOCH FROM "after") < EXTRACT(EPOCH FROM NOW()) ORDER BY "after" ASC, "id" ASC`,
		},
		{
			engine:  db.SQLServer,
			columns: "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1",
			due:     "SELECT [id], [job], [after] FROM [schedule] WHERE DATEDIFF(second, '1970-01-01', [after]) < DATEDIFF(second, '1970-01-01', GETDATE()) ORDER BY [after] ASC, [id] ASC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.engine.String(), func(t *testing.T) {
			store, mock := mockStore(t, tt.engine, nil)

			mock.ExpectQuery(tt.columns).
				WithArgs("schedule").
				WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id").AddRow("after").AddRow("job"))
			mock.ExpectQuery(tt.due).
				WillReturnRows(sqlmock.NewRows([]string{"id", "job", "after"}).
					AddRow(int64(5), int64(42), after).
					AddRow(int64(6), int64(43), after.Add(time.Second)))

			entries, err := store.Due(context.Background())
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, Entry{ID: 5, JobRef: 42, After: after}, entries[0])
			assert.Equal(t, int64(43), entries[1].JobRef)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDue_PermanentIntrospectionErrorPropagates(t *testing.T) {
	store, mock := mockStore(t, db.MySQL, nil)

	mock.ExpectQuery("SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?").
		WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied for user 'multiflexi'@'localhost'"})

	_, err := store.Due(context.Background())
	require.Error(t, err)
	assert.True(t, db.IsPermanent(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDue_OtherIntrospectionErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store, mock := mockStore(t, db.PostgreSQL, zap.New(core).Sugar())

	mock.ExpectQuery("SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1").
		WillReturnError(errors.New("permission denied for schema information_schema"))
	mock.ExpectQuery(`SELECT "id", "job", "after" FROM "schedule" WHERE EXTRACT(EPOCH FROM "after") < EXTRACT(EPOCH FROM NOW()) ORDER BY "after" ASC, "id" ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job", "after"}))

	entries, err := store.Due(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 1, logs.FilterMessage("Schema verification failed").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDue_QueryFailureIsClassified(t *testing.T) {
	store, mock := mockStore(t, db.MySQL, nil)

	mock.ExpectQuery("SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("type"))
	mock.ExpectQuery("SELECT `id`, `job`, `after` FROM `schedule` WHERE UNIX_TIMESTAMP(`after`) < UNIX_TIMESTAMP(NOW()) ORDER BY `after` ASC, `id` ASC").
		WillReturnError(&mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"})

	_, err := store.Due(context.Background())
	require.Error(t, err)
	assert.True(t, db.IsRetryable(err))
}

func TestAdd_PostgresReturningID(t *testing.T) {
	store, mock := mockStore(t, db.PostgreSQL, nil)
	after := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "runtemplate_id" FROM "job" WHERE "id" = $1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"runtemplate_id"}).AddRow(int64(3)))
	mock.ExpectExec(`UPDATE "runtemplate" SET "last_schedule" = $1 WHERE "id" = $2`).
		WithArgs(after, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "schedule" ("after", "job") VALUES ($1, $2) RETURNING "id"`).
		WithArgs(after, int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))

	id, err := store.Add(context.Background(), 42, after)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdd_InsertFailureKeepsRunTemplateUpdate(t *testing.T) {
	store, mock := mockStore(t, db.MySQL, nil)
	after := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT `runtemplate_id` FROM `job` WHERE `id` = ?").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"runtemplate_id"}).AddRow(int64(3)))
	mock.ExpectExec("UPDATE `runtemplate` SET `last_schedule` = ? WHERE `id` = ?").
		WithArgs(after, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `schedule` (`after`, `job`) VALUES (?, ?)").
		WithArgs(after, int64(42)).
		WillReturnError(errors.New("Lock wait timeout exceeded"))

	_, err := store.Add(context.Background(), 42, after)
	require.Error(t, err)
	assert.True(t, db.IsRetryable(err))
	// no rollback expectation: the update is not undone
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove_SQLServer(t *testing.T) {
	store, mock := mockStore(t, db.SQLServer, nil)

	mock.ExpectExec("DELETE FROM [schedule] WHERE [id] = @p1").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Remove(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}
