package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Migration represents a single database migration loaded from a SQL file.
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

// MigrationStatus represents the status of a migration (applied or pending).
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// ColumnGuard adds a column to an existing table when it is missing. Guards
// keep databases created by older releases readable by newer ones.
type ColumnGuard struct {
	Table      string
	Column     string
	Definition string
}

// columnGuards run after every migration pass, in order.
var columnGuards = []ColumnGuard{
	{Table: "appointments", Column: "invoice_id", Definition: "TEXT REFERENCES invoices(id) ON DELETE SET NULL"},
	{Table: "clinical_notes", Column: "diagnosis_code", Definition: "TEXT NOT NULL DEFAULT ''"},
}

// Migrator reads SQL migration files for one dialect and applies them.
type Migrator struct {
	db   *DB
	fsys fs.FS
	dir  string
}

// NewMigrator creates a Migrator reading migration files from dir inside fsys.
func NewMigrator(d *DB, fsys fs.FS, dir string) *Migrator {
	return &Migrator{db: d, fsys: fsys, dir: dir}
}

// NewDefaultMigrator uses the migrations embedded in the binary for the
// dialect of d.
func NewDefaultMigrator(d *DB) *Migrator {
	return NewMigrator(d, embeddedMigrations, path.Join("migrations", string(d.Dialect)))
}

// EnsureMigrationsTable creates the _migrations tracking table if it does
// not already exist.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}
	return nil
}

// LoadMigrations reads all .sql files from the migrations directory, parses
// the version number from the filename prefix (e.g., "001_core.sql" -> 1),
// and returns them sorted by version. Files that do not start with a numeric
// prefix are skipped.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(m.fsys, path.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// AppliedVersions returns the set of versions recorded in _migrations.
func (m *Migrator) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// Up applies all pending migrations in version order, then the column
// guards. Each migration runs in its own transaction. Returns the count of
// applied migrations.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}

	for _, g := range columnGuards {
		if err := m.EnsureColumn(ctx, g); err != nil {
			return count, err
		}
	}

	return count, nil
}

func (m *Migrator) applyMigration(ctx context.Context, mig Migration) error {
	return m.db.WithTx(ctx, func(ctx context.Context) error {
		conn := m.db.Conn(ctx)
		for _, stmt := range SplitStatements(mig.SQL) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("execute SQL: %w", err)
			}
		}
		if _, err := conn.Exec(ctx,
			`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			mig.Version, mig.Name, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

// EnsureColumn adds g.Column to g.Table unless it already exists.
func (m *Migrator) EnsureColumn(ctx context.Context, g ColumnGuard) error {
	exists, err := m.hasColumn(ctx, g.Table, g.Column)
	if err != nil {
		return fmt.Errorf("inspect %s.%s: %w", g.Table, g.Column, err)
	}
	if exists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", g.Table, g.Column, g.Definition)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", g.Table, g.Column, err)
	}
	return nil
}

func (m *Migrator) hasColumn(ctx context.Context, table, column string) (bool, error) {
	if m.db.Dialect == Postgres {
		var n int
		err := m.db.Conn(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM information_schema.columns
			 WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?`,
			table, column).Scan(&n)
		return n > 0, err
	}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return false, err
		}
		for i, c := range cols {
			if c != "name" {
				continue
			}
			switch v := vals[i].(type) {
			case string:
				if v == column {
					return true, nil
				}
			case []byte:
				if string(v) == column {
					return true, nil
				}
			}
		}
	}
	return false, rows.Err()
}

// Status returns the status of all known migrations, applied and pending.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query migration status: %w", err)
	}
	defer rows.Close()

	appliedMap := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at string
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration status: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, at)
		appliedMap[v] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration status: %w", err)
	}

	var statuses []MigrationStatus
	for _, mig := range migrations {
		status := MigrationStatus{
			Version: mig.Version,
			Name:    mig.Name,
		}
		if at, ok := appliedMap[mig.Version]; ok {
			status.Applied = true
			appliedAt := at
			status.AppliedAt = &appliedAt
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// SplitStatements splits a migration script on semicolons that end a line.
// Blank statements and "--" comment lines are dropped.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if s := strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"); s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, strings.TrimSuffix(s, ";"))
	}
	return stmts
}
