package infra

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var errSQLNoRows = sql.ErrNoRows

// OpenSQLite opens (creating when needed) the SQLite database at path and
// applies the embedded migrations. Used for single-node deployments and tests.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if err := migrateSQLite(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return conn, nil
}

func migrateSQLite(ctx context.Context, conn *sql.DB, logger zerolog.Logger) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if migrationApplied(ctx, conn, name) {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		if _, err := conn.ExecContext(ctx, "INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		logger.Info().Str("name", name).Msg("applied migration")
	}
	return nil
}

func migrationApplied(ctx context.Context, conn *sql.DB, name string) bool {
	var exists int
	if err := conn.QueryRowContext(ctx, "SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists); err != nil {
		return false
	}
	var applied int
	err := conn.QueryRowContext(ctx, "SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// RowScanner is the single-row result shared by both SQL runners.
type RowScanner interface {
	Scan(dest ...any) error
}

// SQLiteExecutor mirrors SQLExecutor for database/sql backed stores.
type SQLiteExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRow(ctx context.Context, query string, args ...any) RowScanner
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteRunner enforces and logs the same --sql audit markers as SQLRunner.
type SQLiteRunner struct {
	DB     *sql.DB
	Logger zerolog.Logger
}

func NewSQLiteRunner(db *sql.DB, logger zerolog.Logger) *SQLiteRunner {
	return &SQLiteRunner{DB: db, Logger: logger}
}

func (r *SQLiteRunner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := r.DB.ExecContext(ctx, trimmed, args...)
	if err != nil {
		logSQLError(r.Logger, marker, "exec", err)
		return nil, err
	}
	r.Logger.Debug().Str("sql_marker", marker).Dur("duration", time.Since(start)).Msg("sql: exec")
	return res, nil
}

func (r *SQLiteRunner) QueryRow(ctx context.Context, query string, args ...any) RowScanner {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	r.Logger.Debug().Str("sql_marker", marker).Msg("sql: query_row")
	return loggingRow{row: r.DB.QueryRowContext(ctx, trimmed, args...), logger: r.Logger, marker: marker}
}

func (r *SQLiteRunner) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, trimmed, args...)
	if err != nil {
		logSQLError(r.Logger, marker, "query", err)
		return nil, err
	}
	r.Logger.Debug().Str("sql_marker", marker).Msg("sql: query")
	return rows, nil
}

var _ SQLiteExecutor = (*SQLiteRunner)(nil)
