package testing

import (
	"context"
	"testing"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/db"
)

// CreateTestDB opens a migrated in-memory SQLite store on a single
// connection. Use CreateTestStore when a second connection must see the data.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *db.Conn {
	t.Helper()

	conn, err := db.Open(context.Background(), SQLiteConfig(""), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Migrate(context.Background(), conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

// SQLiteConfig returns a store config for a SQLite file at path.
func SQLiteConfig(path string) am.DatabaseConfig {
	return am.DatabaseConfig{
		Connection:            "sqlite",
		Database:              path,
		ConnectTimeoutSeconds: 10,
	}
}

// CreateTestStore opens a migrated SQLite store in a temp directory.
// A file is used rather than :memory: so several connections, as a worker
// would open, see the same data.
func CreateTestStore(t *testing.T) (*db.Conn, am.DatabaseConfig) {
	t.Helper()

	cfg := SQLiteConfig(t.TempDir() + "/store.db")
	conn, err := db.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	if err := db.Migrate(context.Background(), conn, nil); err != nil {
		t.Fatalf("Failed to migrate test store: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn, cfg
}

// InsertJob adds a job row and returns its id.
func InsertJob(t *testing.T, conn *db.Conn, runtemplateID interface{}, command string) int64 {
	t.Helper()
	id, err := conn.Insert(context.Background(), "job", []string{"runtemplate_id", "command"}, runtemplateID, command)
	if err != nil {
		t.Fatalf("Failed to insert job: %v", err)
	}
	return id
}

// InsertRunTemplate adds a runtemplate row and returns its id.
func InsertRunTemplate(t *testing.T, conn *db.Conn, name string) int64 {
	t.Helper()
	id, err := conn.Insert(context.Background(), "runtemplate", []string{"name"}, name)
	if err != nil {
		t.Fatalf("Failed to insert runtemplate: %v", err)
	}
	return id
}

// TestStore bundles a migrated store connection with the config that opens it.
type TestStore struct {
	Conn   *db.Conn
	Config am.DatabaseConfig
}
