// Package dbtest opens migrated throwaway SQLite databases for repository
// tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

// Open returns a fully migrated database in a temporary directory. It is
// closed when the test ends.
func Open(t testing.TB) *db.DB {
	t.Helper()
	ctx := context.Background()

	d, err := db.Open(ctx, string(db.SQLite), filepath.Join(t.TempDir(), "agenda.db"), 1)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if _, err := db.NewDefaultMigrator(d).Up(ctx); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return d
}

// Exec runs a statement with '?' placeholders and fails the test on error.
func Exec(t testing.TB, d *db.DB, query string, args ...any) {
	t.Helper()
	if _, err := d.Conn(context.Background()).Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
