package db

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/teranos/dispatchd/am"
	"github.com/teranos/dispatchd/errors"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// SQLiteTimestampLayout is how timestamps are stored in SQLite TEXT columns.
// strftime('%s', ...) reads it as UTC.
const SQLiteTimestampLayout = "2006-01-02 15:04:05"

// Dialect captures everything that differs between engine families.
// Queries are written with ? placeholders and passed through Rebind.
type Dialect interface {
	Engine() Engine
	DriverName() string
	DSN(cfg am.DatabaseConfig) (string, error)

	// Quote quotes an identifier.
	Quote(ident string) string
	// DuePredicate compares a timestamp column against the engine's clock
	// at second resolution.
	DuePredicate(column string) string
	// ColumnsQuery lists a table's column names; one argument, the table.
	ColumnsQuery() string
	// InsertReturning builds an INSERT; scan reports whether the new id is
	// read from a returned row instead of LastInsertId.
	InsertReturning(table string, columns []string) (query string, scan bool)
	Rebind(query string) string
	// Timestamp converts t into the value bound for a timestamp column.
	Timestamp(t time.Time) interface{}
}

// DialectFor returns the dialect of an engine family.
func DialectFor(e Engine) (Dialect, error) {
	switch e {
	case MySQL:
		return mysqlDialect{}, nil
	case PostgreSQL:
		return postgresDialect{}, nil
	case SQLite:
		return sqliteDialect{}, nil
	case SQLServer:
		return sqlServerDialect{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedEngine, "engine %d", int(e))
	}
}

func hostPort(host string, port, defaultPort int) string {
	if host == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func insertColumns(d Dialect, table string, columns []string) (string, string) {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		marks[i] = "?"
	}
	return d.Quote(table) + " (" + strings.Join(quoted, ", ") + ")", strings.Join(marks, ", ")
}

// rebindNumbered rewrites ? placeholders to prefix1, prefix2, ...
// leaving quoted literals untouched.
func rebindNumbered(query, prefix string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// MySQL and MariaDB.
type mysqlDialect struct{}

func (mysqlDialect) Engine() Engine     { return MySQL }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) DSN(cfg am.DatabaseConfig) (string, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	if strings.HasPrefix(cfg.Host, "/") {
		mc.Net = "unix"
		mc.Addr = cfg.Host
	} else {
		mc.Net = "tcp"
		mc.Addr = hostPort(cfg.Host, cfg.Port, 3306)
	}
	mc.Timeout = cfg.ConnectTimeout()
	mc.ReadTimeout = cfg.ReadTimeout()
	mc.WriteTimeout = cfg.WriteTimeout()
	mc.Loc = time.UTC
	mc.ParseTime = true
	mc.InterpolateParams = false
	mc.Params = map[string]string{
		"charset":   "utf8mb4",
		"time_zone": "'+00:00'",
	}
	return mc.FormatDSN(), nil
}

func (mysqlDialect) Quote(ident string) string { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" }

func (mysqlDialect) DuePredicate(column string) string {
	return fmt.Sprintf("UNIX_TIMESTAMP(%s) < UNIX_TIMESTAMP(NOW())", column)
}

func (mysqlDialect) ColumnsQuery() string {
	return "SELECT COLUMN_NAME FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
}

func (d mysqlDialect) InsertReturning(table string, columns []string) (string, bool) {
	target, marks := insertColumns(d, table, columns)
	return "INSERT INTO " + target + " VALUES (" + marks + ")", false
}

func (mysqlDialect) Rebind(query string) string        { return query }
func (mysqlDialect) Timestamp(t time.Time) interface{} { return t.UTC() }

// PostgreSQL through pgx.
type postgresDialect struct{}

func (postgresDialect) Engine() Engine     { return PostgreSQL }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) DSN(cfg am.DatabaseConfig) (string, error) {
	u := url.URL{
		Scheme: "postgres",
		Host:   hostPort(cfg.Host, cfg.Port, 5432),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(cfg.ConnectTimeoutSeconds))
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (postgresDialect) Quote(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }

func (postgresDialect) DuePredicate(column string) string {
	return fmt.Sprintf("EXTRACT(EPOCH FROM %s) < EXTRACT(EPOCH FROM NOW())", column)
}

func (postgresDialect) ColumnsQuery() string {
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"
}

func (d postgresDialect) InsertReturning(table string, columns []string) (string, bool) {
	target, marks := insertColumns(d, table, columns)
	return "INSERT INTO " + target + " VALUES (" + marks + ") RETURNING " + d.Quote("id"), true
}

func (postgresDialect) Rebind(query string) string        { return rebindNumbered(query, "$") }
func (postgresDialect) Timestamp(t time.Time) interface{} { return t.UTC() }

// SQLite through mattn/go-sqlite3.
type sqliteDialect struct{}

func (sqliteDialect) Engine() Engine     { return SQLite }
func (sqliteDialect) DriverName() string { return "sqlite3" }

func (sqliteDialect) DSN(cfg am.DatabaseConfig) (string, error) {
	path := cfg.Database
	if path == "" {
		path = ":memory:"
	}
	return fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", path, SQLiteBusyTimeoutMS), nil
}

func (sqliteDialect) Quote(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }

func (sqliteDialect) DuePredicate(column string) string {
	return fmt.Sprintf("strftime('%%s', %s) < strftime('%%s', 'now')", column)
}

func (sqliteDialect) ColumnsQuery() string {
	return "SELECT name FROM pragma_table_info(?)"
}

func (d sqliteDialect) InsertReturning(table string, columns []string) (string, bool) {
	target, marks := insertColumns(d, table, columns)
	return "INSERT INTO " + target + " VALUES (" + marks + ")", false
}

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) Timestamp(t time.Time) interface{} {
	return t.UTC().Format(SQLiteTimestampLayout)
}

// SQL Server through go-mssqldb.
type sqlServerDialect struct{}

func (sqlServerDialect) Engine() Engine     { return SQLServer }
func (sqlServerDialect) DriverName() string { return "sqlserver" }

func (sqlServerDialect) DSN(cfg am.DatabaseConfig) (string, error) {
	u := url.URL{
		Scheme: "sqlserver",
		Host:   hostPort(cfg.Host, cfg.Port, 1433),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("connection timeout", strconv.Itoa(cfg.ConnectTimeoutSeconds))
	q.Set("dial timeout", strconv.Itoa(cfg.ConnectTimeoutSeconds))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (sqlServerDialect) Quote(ident string) string { return "[" + strings.ReplaceAll(ident, "]", "]]") + "]" }

func (sqlServerDialect) DuePredicate(column string) string {
	return fmt.Sprintf("DATEDIFF(second, '1970-01-01', %s) < DATEDIFF(second, '1970-01-01', GETDATE())", column)
}

func (sqlServerDialect) ColumnsQuery() string {
	return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ?"
}

func (d sqlServerDialect) InsertReturning(table string, columns []string) (string, bool) {
	target, marks := insertColumns(d, table, columns)
	return "INSERT INTO " + target + " OUTPUT INSERTED." + d.Quote("id") + " VALUES (" + marks + ")", true
}

func (sqlServerDialect) Rebind(query string) string        { return rebindNumbered(query, "@p") }
func (sqlServerDialect) Timestamp(t time.Time) interface{} { return t.UTC() }
