// Package storage owns the pooled connection to the relational database and
// executes parameterized statements on behalf of the repositories.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultMaxOpenConns is the pool capacity used when none is configured.
const DefaultMaxOpenConns = 10

// Dialect identifies the SQL flavour spoken by the database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Result is the outcome of a write statement.
type Result struct {
	RowsAffected int64
}

// Gateway executes statements against a bounded connection pool. Callers
// beyond the pool capacity wait for a free connection. It is safe for
// concurrent use.
type Gateway struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database, sizes the pool and applies the schema.
func Open(ctx context.Context, opts Options) (*Gateway, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.DSN
	if dialect == DialectSQLite {
		dsn = sqliteDSN(dsn, uuid.NewString())
	}
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	g := &Gateway{db: db, dialect: dialect}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := g.applySchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return g, nil
}

// Dialect returns the SQL flavour of the underlying database.
func (g *Gateway) Dialect() Dialect {
	return g.dialect
}

// Query runs a read statement and returns its rows. The caller must close them.
func (g *Gateway) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return g.db.QueryContext(ctx, g.rebind(query), args...)
}

// QueryRow runs a statement expected to return at most one row.
func (g *Gateway) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return g.db.QueryRowContext(ctx, g.rebind(query), args...)
}

// Exec runs a write statement and reports the affected row count.
func (g *Gateway) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := g.db.ExecContext(ctx, g.rebind(query), args...)
	if err != nil {
		return Result{}, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Result{}, err
	}

	return Result{RowsAffected: affected}, nil
}

// Insert runs an INSERT statement and returns the generated id column.
func (g *Gateway) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := g.QueryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Ping verifies a connection can be established.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (g *Gateway) Stats() sql.DBStats {
	return g.db.Stats()
}

// Close releases every pooled connection.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (g *Gateway) rebind(query string) string {
	if g.dialect != DialectPostgres {
		return query
	}
	return Rebind(query)
}

// Rebind replaces each ? placeholder with its positional $n form.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
