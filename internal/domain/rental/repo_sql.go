package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

type scanner interface {
	Scan(dest ...any) error
}

// =========== Package Repository ===========

type packageRepoSQL struct{ db *db.DB }

func NewPackageRepoSQL(d *db.DB) PackageRepository { return &packageRepoSQL{db: d} }

const packageCols = `id, purchased_on, credits, used, total_cost, notes, created_at`

func scanPackage(row scanner) (*Package, error) {
	var p Package
	var purchased, created string
	if err := row.Scan(&p.ID, &purchased, &p.Credits, &p.Used, &p.TotalCost, &p.Notes, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if p.PurchasedOn, err = db.ParseDate(purchased); err != nil {
		return nil, fmt.Errorf("package %s purchased_on: %w", p.ID, err)
	}
	if p.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("package %s created_at: %w", p.ID, err)
	}
	return &p, nil
}

func (r *packageRepoSQL) Create(ctx context.Context, p *Package) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO rental_packages (id, purchased_on, credits, used, total_cost, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, db.FormatDate(p.PurchasedOn), p.Credits, p.Used, p.TotalCost, p.Notes, db.Stamp(p.CreatedAt))
	return err
}

func (r *packageRepoSQL) GetByID(ctx context.Context, id uuid.UUID) (*Package, error) {
	return scanPackage(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+packageCols+` FROM rental_packages WHERE id = ?`, id))
}

func (r *packageRepoSQL) List(ctx context.Context) ([]*Package, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT `+packageCols+` FROM rental_packages ORDER BY purchased_on, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *packageRepoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM rental_packages WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *packageRepoSQL) OldestWithCredit(ctx context.Context) (*Package, error) {
	return scanPackage(r.db.Conn(ctx).QueryRow(ctx, `
		SELECT `+packageCols+` FROM rental_packages
		WHERE used < credits
		ORDER BY purchased_on, created_at, id
		LIMIT 1`))
}

func (r *packageRepoSQL) IncrementUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.Conn(ctx).Exec(ctx, `UPDATE rental_packages SET used = used + 1 WHERE id = ? AND used < credits`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *packageRepoSQL) DecrementUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.Conn(ctx).Exec(ctx, `UPDATE rental_packages SET used = used - 1 WHERE id = ? AND used > 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// =========== Consumption Repository ===========

type consumptionRepoSQL struct{ db *db.DB }

func NewConsumptionRepoSQL(d *db.DB) ConsumptionRepository { return &consumptionRepoSQL{db: d} }

const consumptionCols = `id, appointment_id, package_id, consumed_on, created_at`

func scanConsumption(row scanner) (*Consumption, error) {
	var c Consumption
	var consumed, created string
	if err := row.Scan(&c.ID, &c.AppointmentID, &c.PackageID, &consumed, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if c.ConsumedOn, err = db.ParseDate(consumed); err != nil {
		return nil, fmt.Errorf("consumption %s consumed_on: %w", c.ID, err)
	}
	if c.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("consumption %s created_at: %w", c.ID, err)
	}
	return &c, nil
}

func (r *consumptionRepoSQL) Create(ctx context.Context, c *Consumption) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO package_consumptions (id, appointment_id, package_id, consumed_on, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.AppointmentID, c.PackageID, db.FormatDate(c.ConsumedOn), db.Stamp(c.CreatedAt))
	return err
}

func (r *consumptionRepoSQL) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consumption, error) {
	return scanConsumption(r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+consumptionCols+` FROM package_consumptions WHERE appointment_id = ?`, appointmentID))
}

func (r *consumptionRepoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM package_consumptions WHERE id = ?`, id)
	return err
}

func (r *consumptionRepoSQL) ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*Consumption, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+consumptionCols+` FROM package_consumptions WHERE package_id = ? ORDER BY consumed_on, created_at`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consumption
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *consumptionRepoSQL) CountByPackage(ctx context.Context, packageID uuid.UUID) (int, error) {
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM package_consumptions WHERE package_id = ?`, packageID).Scan(&n)
	return n, err
}
