package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath is the path of the ephemeral in-memory database.
const MemoryPath = ":memory:"

// Row is one result row as an ordered sequence of column values. Values are
// the driver's native types: int64, float64, string, []byte or nil.
type Row []any

// Execer runs a single SQL statement with positional parameter bindings and
// returns its result rows. Both *Engine and the transaction handle passed to
// Engine.Transaction implement it.
type Execer interface {
	Exec(ctx context.Context, query string, bind ...any) ([]Row, error)
}

// Engine is the handle to an open SQLite database. It is not meant to be
// shared: the dispatcher owns it and serializes every statement.
type Engine struct {
	db         *sql.DB
	path       string
	persistent bool
}

// Open opens the database at path, preferring a persistent file. When path
// names no file, or the file cannot be created, it falls back to an
// in-memory database that lives as long as the engine.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default().With("component", "sqlite")
	}

	if !isMemoryPath(path) {
		e, err := open(ctx, path, true)
		if err == nil {
			logger.Debug("created persistent sqlite database", "path", path)
			return e, nil
		}
		logger.Warn("persistent storage unavailable, falling back to memory", "path", path, "error", err)
	}

	e, err := open(ctx, MemoryPath, false)
	if err != nil {
		return nil, err
	}
	logger.Debug("created transient sqlite database")
	return e, nil
}

func open(ctx context.Context, path string, persistent bool) (*Engine, error) {
	if persistent {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps an in-memory database alive and makes
	// statements issued between BEGIN and COMMIT share one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if persistent {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Engine{db: db, path: path, persistent: persistent}, nil
}

func isMemoryPath(path string) bool {
	return path == "" || path == MemoryPath || strings.HasPrefix(path, "file::memory:")
}

// Path returns the path the engine was opened with, or MemoryPath after a
// fallback.
func (e *Engine) Path() string { return e.path }

// Persistent reports whether the database is backed by a file.
func (e *Engine) Persistent() bool { return e.persistent }

// Exec runs query in autocommit mode unless the SQL itself opens a
// transaction.
func (e *Engine) Exec(ctx context.Context, query string, bind ...any) ([]Row, error) {
	return collect(e.db.QueryContext(ctx, query, bind...))
}

// Transaction runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (e *Engine) Transaction(ctx context.Context, fn func(tx Execer) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(txExecer{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (e *Engine) Close() error {
	return e.db.Close()
}

type txExecer struct {
	tx *sql.Tx
}

func (t txExecer) Exec(ctx context.Context, query string, bind ...any) ([]Row, error) {
	return collect(t.tx.QueryContext(ctx, query, bind...))
}

func collect(rows *sql.Rows, err error) ([]Row, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Row{}
	for rows.Next() {
		values := make(Row, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		result = append(result, values)
	}
	return result, rows.Err()
}

// ErrorCode returns the extended SQLite result code carried by err, or 0 when
// err did not come from the engine.
func ErrorCode(err error) int {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()
	}
	return 0
}

// IsConstraint reports whether code is any flavour of SQLITE_CONSTRAINT.
func IsConstraint(code int) bool {
	return code&0xff == sqlite3.SQLITE_CONSTRAINT
}
