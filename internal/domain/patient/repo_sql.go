package patient

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

// =========== Patient Repository ===========

type patientRepoSQL struct{ db *db.DB }

func NewPatientRepoSQL(d *db.DB) PatientRepository { return &patientRepoSQL{db: d} }

const patientCols = `document, first_name, last_name, birth_date, email, phone,
	address, emergency_contact, notes, created_at`

func scanPatient(row scanner) (*Patient, error) {
	var p Patient
	var created string
	err := row.Scan(&p.Document, &p.FirstName, &p.LastName, &p.BirthDate, &p.Email, &p.Phone,
		&p.Address, &p.EmergencyContact, &p.Notes, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("patient %s created_at: %w", p.Document, err)
	}
	return &p, nil
}

func (r *patientRepoSQL) Create(ctx context.Context, p *Patient) error {
	p.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO patients (document, first_name, last_name, birth_date, email, phone,
			address, emergency_contact, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Document, p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone,
		p.Address, p.EmergencyContact, p.Notes, db.Stamp(p.CreatedAt))
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *patientRepoSQL) GetByDocument(ctx context.Context, document string) (*Patient, error) {
	return scanPatient(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE document = ?`, document))
}

func (r *patientRepoSQL) Update(ctx context.Context, p *Patient) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name = ?, last_name = ?, birth_date = ?, email = ?, phone = ?,
			address = ?, emergency_contact = ?, notes = ?
		WHERE document = ?`,
		p.FirstName, p.LastName, p.BirthDate, p.Email, p.Phone,
		p.Address, p.EmergencyContact, p.Notes, p.Document)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoSQL) Delete(ctx context.Context, document string) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM patients WHERE document = ?`, document)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoSQL) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	where := ``
	var args []any
	if q := strings.TrimSpace(query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = ` WHERE LOWER(document) LIKE ? OR LOWER(first_name || ' ' || last_name) LIKE ?`
		args = append(args, like, like)
	}

	var total int
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients`+where+` ORDER BY last_name, first_name, document LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Note Repository ===========

type noteRepoSQL struct{ db *db.DB }

func NewNoteRepoSQL(d *db.DB) NoteRepository { return &noteRepoSQL{db: d} }

const noteCols = `id, patient_document, note_date, diagnosis_code, body, created_at`

func scanNote(row scanner) (*ClinicalNote, error) {
	var n ClinicalNote
	var noteDate, created string
	if err := row.Scan(&n.ID, &n.PatientDocument, &noteDate, &n.DiagnosisCode, &n.Body, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if n.NoteDate, err = db.ParseDate(noteDate); err != nil {
		return nil, fmt.Errorf("note %s note_date: %w", n.ID, err)
	}
	if n.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("note %s created_at: %w", n.ID, err)
	}
	return &n, nil
}

func (r *noteRepoSQL) Create(ctx context.Context, n *ClinicalNote) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO clinical_notes (id, patient_document, note_date, diagnosis_code, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.PatientDocument, db.FormatDate(n.NoteDate), n.DiagnosisCode, n.Body, db.Stamp(n.CreatedAt))
	return err
}

func (r *noteRepoSQL) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error) {
	return scanNote(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+noteCols+` FROM clinical_notes WHERE id = ?`, id))
}

func (r *noteRepoSQL) ListByPatient(ctx context.Context, document string) ([]*ClinicalNote, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+noteCols+` FROM clinical_notes WHERE patient_document = ? ORDER BY note_date DESC, created_at DESC`, document)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClinicalNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *noteRepoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM clinical_notes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
