package db

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/errors"
	"github.com/teranos/dispatchd/logger"
)

// Conn is a single, non-pooled connection to the store. It is never shared
// across a process boundary; a spawned worker opens its own.
type Conn struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the configured engine and verifies the connection with a ping.
// A DB_PERSISTENT=true setting is overridden: connections are always fresh.
func Open(ctx context.Context, cfg am.DatabaseConfig, log *zap.SugaredLogger) (*Conn, error) {
	engine, err := ParseEngine(cfg.Connection)
	if err != nil {
		return nil, err
	}
	dialect, err := DialectFor(engine)
	if err != nil {
		return nil, err
	}

	if log != nil && cfg.Persistent {
		logger.AddDBSymbol(log).Warnw("DB_PERSISTENT=true ignored, connections are never pooled",
			logger.FieldEngine, engine.String())
	}

	dsn, err := dialect.DSN(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s DSN", engine)
	}

	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s connection", engine)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		err = errors.WithDetailf(
			errors.Wrapf(err, "failed to connect to %s", engine),
			"host=%s database=%s", cfg.Host, cfg.Database)
		if errors.Is(pingCtx.Err(), context.DeadlineExceeded) {
			err = errors.Mark(err, errors.ErrTimeout)
		}
		return nil, err
	}

	if log != nil {
		logger.AddDBSymbol(log).Debugw("Store connection opened",
			logger.FieldEngine, engine.String(),
			logger.FieldHost, cfg.Host,
			logger.FieldDatabase, cfg.Database)
	}

	return &Conn{db: sqlDB, dialect: dialect}, nil
}

// NewConn wraps an existing *sql.DB, for tests and callers that own the handle.
func NewConn(sqlDB *sql.DB, dialect Dialect) *Conn {
	return &Conn{db: sqlDB, dialect: dialect}
}

// Dialect returns the connection's engine dialect.
func (c *Conn) Dialect() Dialect { return c.dialect }

// DB exposes the underlying handle.
func (c *Conn) DB() *sql.DB { return c.db }

// IsAlive performs a trivial round trip.
func (c *Conn) IsAlive(ctx context.Context) bool {
	if c == nil || c.db == nil {
		return false
	}
	var one int
	return c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}

// ExecContext runs a ?-placeholder statement after rebinding.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryContext runs a ?-placeholder query after rebinding.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryRowContext runs a ?-placeholder single-row query after rebinding.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// Insert inserts one row and returns its generated id.
func (c *Conn) Insert(ctx context.Context, table string, columns []string, args ...interface{}) (int64, error) {
	query, scan := c.dialect.InsertReturning(table, columns)
	if scan {
		var id int64
		if err := c.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Close releases the connection.
func (c *Conn) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// OpenFunc opens a fresh connection.
type OpenFunc func(ctx context.Context) (*Conn, error)

// Opener returns an OpenFunc bound to cfg.
func Opener(cfg am.DatabaseConfig, log *zap.SugaredLogger) OpenFunc {
	return func(ctx context.Context) (*Conn, error) {
		return Open(ctx, cfg, log)
	}
}

// Handle lazily holds one connection and replaces it when it stops
// answering. Safe for concurrent use.
type Handle struct {
	open   OpenFunc
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *Conn
	closed bool
}

// NewHandle creates a handle that opens connections with open.
func NewHandle(open OpenFunc, log *zap.SugaredLogger) *Handle {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handle{open: open, logger: log}
}

// Get returns a live connection, reconnecting if the held one is dead.
func (h *Handle) Get(ctx context.Context) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrDatabaseClosed
	}
	if h.conn != nil {
		if h.conn.IsAlive(ctx) {
			return h.conn, nil
		}
		logger.AddDBSymbol(h.logger).Warnw("Store connection lost, reconnecting")
		_ = h.conn.Close()
		h.conn = nil
	}

	conn, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	h.conn = conn
	return conn, nil
}

// Close releases the held connection, if any. A closed handle does not
// reconnect.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}
