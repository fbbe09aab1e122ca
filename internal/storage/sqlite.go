package storage

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

// sqliteBusyTimeoutMillis bounds how long a connection waits for another
// connection's write lock before giving up with SQLITE_BUSY.
const sqliteBusyTimeoutMillis = 5000

func init() {
	// SQLite's built-in lower() folds ASCII only. Replace it on every
	// connection so LOWER(...) matches Go's strings.ToLower, as on postgres.
	sqlite.MustRegisterDeterministicScalarFunction("lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return strings.ToLower(fmt.Sprint(v)), nil
	}
}

// sqliteDSN returns the DSN to open for a SQLite database. Empty and
// ":memory:" DSNs become a private shared-cache memory database, since plain
// :memory: gives every pooled connection its own database. File databases
// get a busy timeout and WAL journaling so concurrent writers wait for the
// lock instead of failing.
func sqliteDSN(dsn, name string) string {
	if dsn == "" || dsn == ":memory:" {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	}
	if strings.Contains(dsn, "mode=memory") {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dsn, sep, sqliteBusyTimeoutMillis)
}
