package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

type scanner interface {
	Scan(dest ...any) error
}

type repoSQL struct{ db *db.DB }

func NewRepoSQL(d *db.DB) Repository { return &repoSQL{db: d} }

const invoiceCols = `id, number, company, period_start, period_end, total, issued_on, paid, created_at`

func scanInvoice(row scanner) (*Invoice, error) {
	var inv Invoice
	var start, end, issued, created string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.Company, &start, &end, &inv.Total, &issued, &inv.Paid, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if inv.PeriodStart, err = db.ParseDate(start); err != nil {
		return nil, fmt.Errorf("invoice %s period_start: %w", inv.ID, err)
	}
	if inv.PeriodEnd, err = db.ParseDate(end); err != nil {
		return nil, fmt.Errorf("invoice %s period_end: %w", inv.ID, err)
	}
	if inv.IssuedOn, err = db.ParseDate(issued); err != nil {
		return nil, fmt.Errorf("invoice %s issued_on: %w", inv.ID, err)
	}
	if inv.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("invoice %s created_at: %w", inv.ID, err)
	}
	return &inv, nil
}

const itemSelect = `
	SELECT a.id, a.patient_document, p.first_name, p.last_name, a.starts_at, COALESCE(s.name, ''), a.price
	FROM appointments a
	JOIN patients p ON p.document = a.patient_document
	LEFT JOIN services s ON s.id = a.service_id`

func (r *repoSQL) items(ctx context.Context, where string, args ...any) ([]Item, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, itemSelect+` WHERE `+where+` ORDER BY a.starts_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		var first, last, startsAt string
		if err := rows.Scan(&it.AppointmentID, &it.PatientDocument, &first, &last, &startsAt, &it.ServiceName, &it.Price); err != nil {
			return nil, err
		}
		it.PatientName = strings.TrimSpace(first + " " + last)
		if it.StartsAt, err = db.ParseTimestamp(startsAt); err != nil {
			return nil, fmt.Errorf("appointment %s starts_at: %w", it.AppointmentID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoSQL) Uninvoiced(ctx context.Context, company string, from, to time.Time) ([]Item, error) {
	return r.items(ctx, `a.modality = ? AND a.invoice_id IS NULL AND LOWER(s.company) = LOWER(?)
		AND a.starts_at >= ? AND a.starts_at < ?`,
		"convenio", company, db.FormatTimestamp(from), db.FormatTimestamp(to))
}

func (r *repoSQL) Items(ctx context.Context, invoiceID uuid.UUID) ([]Item, error) {
	return r.items(ctx, `a.invoice_id = ?`, invoiceID)
}

func (r *repoSQL) LastNumber(ctx context.Context, year int) (string, error) {
	var number string
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT number FROM invoices WHERE number LIKE ? ORDER BY number DESC LIMIT 1`,
		fmt.Sprintf("%04d-%%", year)).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return number, err
}

func (r *repoSQL) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO invoices (`+invoiceCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.Company, db.FormatDate(inv.PeriodStart), db.FormatDate(inv.PeriodEnd),
		inv.Total, db.FormatDate(inv.IssuedOn), inv.Paid, db.Stamp(inv.CreatedAt))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("invoice number %s already issued: %w", inv.Number, err)
	}
	return err
}

func (r *repoSQL) Link(ctx context.Context, invoiceID uuid.UUID, appointmentIDs []uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		now := db.Stamp(time.Now())
		for _, id := range appointmentIDs {
			res, err := r.db.Conn(ctx).Exec(ctx,
				`UPDATE appointments SET invoice_id = ?, updated_at = ? WHERE id = ? AND invoice_id IS NULL`,
				invoiceID, now, id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("appointment %s is gone or already invoiced", id)
			}
		}
		return nil
	})
}

func (r *repoSQL) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id = ?`, id))
}

func (r *repoSQL) List(ctx context.Context, company string, limit, offset int) ([]*Invoice, int, error) {
	where, args := "1 = 1", []any{}
	if company != "" {
		where, args = "LOWER(company) = LOWER(?)", append(args, company)
	}

	var total int
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE `+where+` ORDER BY number DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *repoSQL) MarkPaid(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := r.db.Conn(ctx).Exec(ctx, `UPDATE invoices SET paid = ? WHERE id = ?`, true, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = r.db.Conn(ctx).Exec(ctx,
			`UPDATE appointments SET paid = ?, updated_at = ? WHERE invoice_id = ?`,
			true, db.Stamp(time.Now()), id)
		return err
	})
}

func (r *repoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.Conn(ctx).Exec(ctx,
			`UPDATE appointments SET invoice_id = NULL, updated_at = ? WHERE invoice_id = ?`,
			db.Stamp(time.Now()), id); err != nil {
			return err
		}
		res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
