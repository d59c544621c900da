package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/teranos/dispatchd/errors"
)

// Class says whether a store failure can be fixed by retrying.
type Class int

const (
	ClassUnknown Class = iota
	ClassTransient
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ErrDatabaseClosed is returned by a Handle that has been closed.
var ErrDatabaseClosed = errors.New("database is closed")

// codeSignatures are driver error codes, keyed "<driver>:<code>".
var codeSignatures = map[string]Class{
	// MySQL / MariaDB
	"mysql:1044": ClassPermanent, // access denied to database
	"mysql:1045": ClassPermanent, // access denied for user
	"mysql:1049": ClassPermanent, // unknown database
	"mysql:1698": ClassPermanent, // access denied (auth plugin)
	"mysql:1040": ClassTransient, // too many connections
	"mysql:1053": ClassTransient, // server shutdown in progress
	"mysql:1205": ClassTransient, // lock wait timeout
	"mysql:1213": ClassTransient, // deadlock
	"mysql:2006": ClassTransient, // server has gone away
	"mysql:2013": ClassTransient, // lost connection during query

	// PostgreSQL SQLSTATE
	"pg:28000": ClassPermanent, // invalid authorization specification
	"pg:28P01": ClassPermanent, // invalid password
	"pg:3D000": ClassPermanent, // invalid catalog name
	"pg:40001": ClassTransient, // serialization failure
	"pg:40P01": ClassTransient, // deadlock detected
	"pg:53300": ClassTransient, // too many connections
	"pg:55P03": ClassTransient, // lock not available
	"pg:57P01": ClassTransient, // admin shutdown
	"pg:57P03": ClassTransient, // cannot connect now

	// SQL Server
	"mssql:18456": ClassPermanent, // login failed
	"mssql:4060":  ClassPermanent, // cannot open database
	"mssql:1205":  ClassTransient, // deadlock victim
	"mssql:1222":  ClassTransient, // lock request timeout
	"mssql:40613": ClassTransient, // database unavailable
	"mssql:40501": ClassTransient, // service busy

	// SQLite primary result codes
	"sqlite:5":  ClassTransient, // SQLITE_BUSY
	"sqlite:6":  ClassTransient, // SQLITE_LOCKED
	"sqlite:14": ClassPermanent, // SQLITE_CANTOPEN
	"sqlite:23": ClassPermanent, // SQLITE_AUTH
	"sqlite:26": ClassPermanent, // SQLITE_NOTADB
}

// messageSignatures are lower-case substrings, checked in order after codes.
var messageSignatures = []struct {
	match string
	class Class
}{
	{"access denied", ClassPermanent},
	{"error 1045", ClassPermanent},
	{"authentication", ClassPermanent},
	{"login failed", ClassPermanent},
	{"unknown database", ClassPermanent},

	{"server has gone away", ClassTransient},
	{"lost connection", ClassTransient},
	{"packets out of order", ClassTransient},
	{"connection refused", ClassTransient},
	{"too many connections", ClassTransient},
	{"lock wait timeout", ClassTransient},
	{"deadlock", ClassTransient},
	{"database is locked", ClassTransient},
	{"database is busy", ClassTransient},
	{"connection reset", ClassTransient},
	{"broken pipe", ClassTransient},
	{"i/o timeout", ClassTransient},
	{"bad connection", ClassTransient},
	{"invalid connection", ClassTransient},
	{"unexpected eof", ClassTransient},
	{"no such host", ClassTransient},
}

// Classify is the single place store errors are sorted into transient,
// permanent or unknown. Unknown errors are treated as transient by callers
// with a bounded budget and as non-retryable by callers without one.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	if errors.Is(err, ErrUnsupportedEngine) {
		return ClassPermanent
	}
	if errors.IsAny(err, driver.ErrBadConn, mysql.ErrInvalidConn, errors.ErrTimeout, context.DeadlineExceeded) {
		return ClassTransient
	}
	if IsDatabaseClosed(err) {
		return ClassTransient
	}

	if code := driverCode(err); code != "" {
		if class, ok := codeSignatures[code]; ok {
			return class
		}
		if strings.HasPrefix(code, "pg:08") {
			// SQLSTATE class 08: connection exception
			return ClassTransient
		}
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range messageSignatures {
		if strings.Contains(msg, sig.match) {
			return sig.class
		}
	}
	return ClassUnknown
}

// driverCode extracts "<driver>:<code>" from the first driver error in the chain.
func driverCode(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return fmt.Sprintf("mysql:%d", myErr.Number)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return "pg:" + pgErr.Code
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return fmt.Sprintf("mssql:%d", msErr.Number)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return fmt.Sprintf("sqlite:%d", int(liteErr.Code))
	}
	return ""
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// IsPermanent reports whether err can never be fixed by retrying.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}

// IsDatabaseClosed checks if an error indicates the database handle is closed.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
