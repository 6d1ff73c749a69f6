// Package sqldb implements the storage interfaces on database/sql.
//
// Two dialects are supported: SQLite through modernc.org/sqlite (the default,
// used by every unit test) and Postgres through pgx's database/sql driver.
// Queries are written once with '?' placeholders and rebound per dialect.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/storage"
)

// Verify Store implements storage.Store at compile time
var _ storage.Store = (*Store)(nil)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// rebind rewrites '?' placeholders to '$n' for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// jsonArg is the placeholder expression for a JSON document parameter.
func (d dialect) jsonArg() string {
	if d == dialectPostgres {
		return "CAST(CAST(? AS TEXT) AS JSONB)"
	}
	return "?"
}

// jsonCol reads a JSON column as text.
func (d dialect) jsonCol(col string) string {
	if d == dialectPostgres {
		return "CAST(" + col + " AS TEXT)"
	}
	return col
}

// Config holds connection settings for Open.
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	DSN    string
	// OpTimeout bounds each non-transactional call; zero means no bound.
	OpTimeout time.Duration
	Logger    *zap.Logger
}

// Store is the database/sql ledger store.
type Store struct {
	db        *sql.DB
	dialect   dialect
	opTimeout time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// Open connects to the configured database. It does not create the schema;
// call Migrate for that.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{
		opTimeout: cfg.OpTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		s.dialect = dialectSQLite
		db, err = sql.Open("sqlite", sqliteDSN(cfg.DSN))
		if err == nil {
			// SQLite allows a single writer; one connection keeps BEGIN
			// IMMEDIATE from ever racing another connection.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres, "pgx":
		s.dialect = dialectPostgres
		db, err = sql.Open("pgx", cfg.DSN)
		if err == nil {
			db.SetMaxOpenConns(20)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.withRetry(pingCtx, func() error { return db.PingContext(pingCtx) }); err != nil {
		_ = db.Close()
		return nil, wrapDBError("ping database", err)
	}
	return s, nil
}

// sqliteDSN adds the pragmas the store relies on unless the caller set their
// own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance commands and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports the active dialect name.
func (s *Store) Driver() string {
	if s.dialect == dialectPostgres {
		return DriverPostgres
	}
	return DriverSQLite
}

// opContext applies the per-call timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// execContext wraps ExecContext with dialect rebinding and retry for
// transient errors.
func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	query = s.dialect.rebind(query)
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// queryContext wraps QueryContext with dialect rebinding and retry.
func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	query = s.dialect.rebind(query)
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// queryRowContext runs a single-row query; scan receives the *sql.Row.
func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	query = s.dialect.rebind(query)
	return s.withRetry(ctx, func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}
