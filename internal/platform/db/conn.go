package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Queryer is the subset of *sql.DB and *sql.Tx used by repositories.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle runs queries written with '?' placeholders against a Queryer,
// rewriting placeholders for the dialect.
type Handle struct {
	q       Queryer
	dialect Dialect
}

func (h Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return h.q.ExecContext(ctx, Rebind(h.dialect, query), args...)
}

func (h Handle) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.q.QueryContext(ctx, Rebind(h.dialect, query), args...)
}

func (h Handle) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return h.q.QueryRowContext(ctx, Rebind(h.dialect, query), args...)
}

type txKey struct{}

// TxFromContext returns the transaction started by WithTx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Conn returns a handle bound to the transaction in ctx, or to the pool.
func (d *DB) Conn(ctx context.Context) Handle {
	if tx := TxFromContext(ctx); tx != nil {
		return Handle{q: tx, dialect: d.Dialect}
	}
	return Handle{q: d.DB, dialect: d.Dialect}
}

// WithTx runs fn inside a transaction carried by the context passed to fn.
// A call made while a transaction is already active joins it.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rebind rewrites '?' placeholders to '$1..$n' for PostgreSQL. Question marks
// inside single-quoted literals are left alone. SQLite queries pass through.
func Rebind(d Dialect, query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
