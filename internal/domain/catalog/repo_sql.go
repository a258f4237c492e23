package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

type repoSQL struct{ db *db.DB }

func NewRepoSQL(d *db.DB) Repository { return &repoSQL{db: d} }

const serviceCols = `id, name, price, modality, company, active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (*Service, error) {
	var s Service
	var created string
	if err := row.Scan(&s.ID, &s.Name, &s.Price, &s.Modality, &s.Company, &s.Active, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t, err := db.ParseStamp(created)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = t
	return &s, nil
}

func (r *repoSQL) Create(ctx context.Context, s *Service) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO services (id, name, price, modality, company, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Price, string(s.Modality), s.Company, s.Active, db.Stamp(s.CreatedAt))
	return err
}

func (r *repoSQL) GetByID(ctx context.Context, id uuid.UUID) (*Service, error) {
	return scanService(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+serviceCols+` FROM services WHERE id = ?`, id))
}

func (r *repoSQL) Update(ctx context.Context, s *Service) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE services SET name = ?, price = ?, modality = ?, company = ?, active = ?
		WHERE id = ?`,
		s.Name, s.Price, string(s.Modality), s.Company, s.Active, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQL) List(ctx context.Context, f Filter) ([]*Service, error) {
	query := `SELECT ` + serviceCols + ` FROM services WHERE 1=1`
	var args []any
	if f.Modality != "" {
		query += ` AND modality = ?`
		args = append(args, string(f.Modality))
	}
	if f.Active != nil {
		query += ` AND active = ?`
		args = append(args, *f.Active)
	}
	if f.Company != "" {
		query += ` AND company = ?`
		args = append(args, f.Company)
	}
	query += ` ORDER BY name, created_at`

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}
