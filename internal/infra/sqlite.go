package infra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// OpenSQLite opens the job database at path. SQLite allows a single writer,
// so the pool is pinned to one connection and lock waits are absorbed by the
// busy timeout instead of surfacing as SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// SQLiteRunner is the database/sql counterpart of SQLRunner: statements carry
// the same audit marker and are logged by it.
type SQLiteRunner struct {
	DB     *sql.DB
	Logger zerolog.Logger
}

func NewSQLiteRunner(db *sql.DB, logger zerolog.Logger) *SQLiteRunner {
	return &SQLiteRunner{DB: db, Logger: logger}
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec runs a marked statement on q, which may be the pool or a transaction.
func (r *SQLiteRunner) Exec(ctx context.Context, q Queryer, query string, args ...any) (sql.Result, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: exec failed")
		return nil, err
	}
	r.Logger.Debug().Str("sql", marker).Msg("sql: exec")
	return res, nil
}

// Query runs a marked query on q.
func (r *SQLiteRunner) Query(ctx context.Context, q Queryer, query string, args ...any) (*sql.Rows, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("sql: query failed")
		return nil, err
	}
	r.Logger.Debug().Str("sql", marker).Msg("sql: query")
	return rows, nil
}

// QueryRow runs a marked single-row query on q.
func (r *SQLiteRunner) QueryRow(ctx context.Context, q Queryer, query string, args ...any) (*sql.Row, error) {
	marker, stmt, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	r.Logger.Debug().Str("sql", marker).Msg("sql: query_row")
	return q.QueryRowContext(ctx, stmt, args...), nil
}
