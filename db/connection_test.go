package db

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/errors"
)

func sqliteConfig(path string) am.DatabaseConfig {
	return am.DatabaseConfig{
		Connection:            "sqlite",
		Database:              path,
		ConnectTimeoutSeconds: 10,
	}
}

func TestOpen(t *testing.T) {
	t.Run("opens file database", func(t *testing.T) {
		ctx := context.Background()
		conn, err := Open(ctx, sqliteConfig(filepath.Join(t.TempDir(), "store.db")), nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, SQLite, conn.Dialect().Engine())
		assert.True(t, conn.IsAlive(ctx))
		assert.Equal(t, 1, conn.DB().Stats().MaxOpenConnections)

		var busyTimeout int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("empty database name is in-memory", func(t *testing.T) {
		conn, err := Open(context.Background(), sqliteConfig(""), nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.True(t, conn.IsAlive(context.Background()))
	})

	t.Run("unsupported engine is permanent", func(t *testing.T) {
		cfg := sqliteConfig("")
		cfg.Connection = "oracle"

		_, err := Open(context.Background(), cfg, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedEngine))
		assert.Equal(t, ClassPermanent, Classify(err))
	})

	t.Run("unreachable path fails with stack", func(t *testing.T) {
		_, err := Open(context.Background(), sqliteConfig("/nonexistent/dir/store.db"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to sqlite")
	})

	t.Run("persistent flag is overridden with warning", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		cfg := sqliteConfig("")
		cfg.Persistent = true

		conn, err := Open(context.Background(), cfg, zap.New(core).Sugar())
		require.NoError(t, err)
		defer conn.Close()

		require.Equal(t, 1, logs.FilterMessageSnippet("DB_PERSISTENT").Len())
		assert.Equal(t, 1, conn.DB().Stats().MaxOpenConnections)
	})
}

func TestConn_IsAlive(t *testing.T) {
	conn, err := Open(context.Background(), sqliteConfig(""), nil)
	require.NoError(t, err)

	assert.True(t, conn.IsAlive(context.Background()))
	require.NoError(t, conn.Close())
	assert.False(t, conn.IsAlive(context.Background()))

	var nilConn *Conn
	assert.False(t, nilConn.IsAlive(context.Background()))
	assert.NoError(t, nilConn.Close())
}

func TestConn_Insert(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, sqliteConfig(""), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Migrate(ctx, conn, nil))

	first, err := conn.Insert(ctx, "schedule", []string{"after", "job"}, "2024-01-01 00:00:00", 42)
	require.NoError(t, err)
	second, err := conn.Insert(ctx, "schedule", []string{"after", "job"}, "2024-01-01 00:00:00", 43)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestHandle_ReconnectsDeadConnection(t *testing.T) {
	var opened atomic.Int32
	open := func(ctx context.Context) (*Conn, error) {
		opened.Add(1)
		return Open(ctx, sqliteConfig(""), nil)
	}
	h := NewHandle(open, nil)
	defer h.Close()
	ctx := context.Background()

	c1, err := h.Get(ctx)
	require.NoError(t, err)
	c2, err := h.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "live connection is reused")
	assert.Equal(t, int32(1), opened.Load())

	// Simulate the server dropping the connection.
	require.NoError(t, c1.DB().Close())

	c3, err := h.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)
	assert.True(t, c3.IsAlive(ctx))
	assert.Equal(t, int32(2), opened.Load())
}

func TestHandle_OpenFailure(t *testing.T) {
	h := NewHandle(func(ctx context.Context) (*Conn, error) {
		return nil, errors.New("connection refused")
	}, nil)

	_, err := h.Get(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.NoError(t, h.Close())
}

func TestHandle_ClosedDoesNotReconnect(t *testing.T) {
	var opened atomic.Int32
	h := NewHandle(func(ctx context.Context) (*Conn, error) {
		opened.Add(1)
		return Open(ctx, sqliteConfig(""), nil)
	}, nil)
	ctx := context.Background()

	_, err := h.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Get(ctx)
	require.Error(t, err)
	assert.True(t, IsDatabaseClosed(err))
	assert.True(t, IsRetryable(err), "a fresh handle can still connect")
	assert.Equal(t, int32(1), opened.Load())
}

func TestOpen_DeadlineMarksTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := Open(ctx, sqliteConfig(""), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsRetryable(err))
}
