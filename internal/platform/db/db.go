// Package db owns the relational store: opening the database/sql handle for
// the configured dialect, transactions carried in the context, schema
// migrations and the health endpoint.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL flavour behind a DB.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Wall-clock layouts used for every persisted timestamp and date. Both sort
// lexicographically in chronological order, which the range queries rely on.
const (
	TimestampLayout = "2006-01-02 15:04"
	DateLayout      = "2006-01-02"
	ClockLayout     = "15:04"
)

// StampLayout is used for created_at/updated_at bookkeeping columns.
const StampLayout = "2006-01-02 15:04:05.000000"

// DB is a database/sql pool tagged with its dialect. Path is the database
// file for SQLite and empty otherwise.
type DB struct {
	*sql.DB
	Dialect Dialect
	Path    string
}

// Open connects to the store for driver ("sqlite" or "postgres"). For SQLite
// dsn is a file path; the parent directory is created when missing.
func Open(ctx context.Context, driver, dsn string, maxConns int) (*DB, error) {
	switch Dialect(driver) {
	case SQLite:
		return openSQLite(ctx, dsn)
	case Postgres:
		return openPostgres(ctx, dsn, maxConns)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Single user, single file: one connection keeps SQLite's file lock
	// uncontended.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: sqlDB, Dialect: SQLite, Path: path}, nil
}

func openPostgres(ctx context.Context, url string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: sqlDB, Dialect: Postgres}, nil
}

// IsUniqueViolation reports whether err was caused by a UNIQUE or PRIMARY KEY
// constraint in either dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string { return t.Format(TimestampLayout) }

// ParseTimestamp parses a TimestampLayout value as local wall-clock time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// Stamp renders t in StampLayout.
func Stamp(t time.Time) string { return t.Format(StampLayout) }

// ParseStamp parses a StampLayout value as local time.
func ParseStamp(s string) (time.Time, error) {
	return time.ParseInLocation(StampLayout, s, time.Local)
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate parses a DateLayout value as local midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.Local)
}
