package db

import (
	"strings"

	"github.com/teranos/dispatchd/errors"
)

// Engine is a supported relational engine family.
type Engine int

const (
	MySQL Engine = iota + 1
	PostgreSQL
	SQLite
	SQLServer
)

// ErrUnsupportedEngine is returned for a DB_CONNECTION no dialect serves.
// It is never retried.
var ErrUnsupportedEngine = errors.New("unsupported database engine")

var engineAliases = map[string]Engine{
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"pgsql":      PostgreSQL,
	"postgresql": PostgreSQL,
	"postgres":   PostgreSQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"sqlsrv":     SQLServer,
	"sqlserver":  SQLServer,
	"mssql":      SQLServer,
}

// ParseEngine maps a DB_CONNECTION value to its engine family.
func ParseEngine(name string) (Engine, error) {
	if e, ok := engineAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return e, nil
	}
	return 0, errors.WithHint(
		errors.Wrapf(ErrUnsupportedEngine, "%q", name),
		"DB_CONNECTION must be one of mysql, mariadb, pgsql, sqlite, sqlsrv")
}

func (e Engine) String() string {
	switch e {
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "pgsql"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlsrv"
	default:
		return "unknown"
	}
}
