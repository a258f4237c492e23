package agenda

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

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

// =========== Appointment Repository ===========

type appointmentRepoSQL struct{ db *db.DB }

func NewAppointmentRepoSQL(d *db.DB) AppointmentRepository { return &appointmentRepoSQL{db: d} }

const apptCols = `a.id, a.patient_document, a.service_id, a.starts_at, a.modality, a.channel,
	a.price, a.paid, a.status, a.motive, a.notes, a.invoice_id, a.created_at, a.updated_at`

func scanAppointment(row scanner, extra ...any) (*Appointment, error) {
	var a Appointment
	var serviceID, invoiceID uuid.NullUUID
	var startsAt, created, updated string
	dest := []any{&a.ID, &a.PatientDocument, &serviceID, &startsAt, &a.Modality, &a.Channel,
		&a.Price, &a.Paid, &a.Status, &a.Motive, &a.Notes, &invoiceID, &created, &updated}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.ServiceID = uuidPtr(serviceID)
	a.InvoiceID = uuidPtr(invoiceID)

	var err error
	if a.StartsAt, err = db.ParseTimestamp(startsAt); err != nil {
		return nil, fmt.Errorf("appointment %s starts_at: %w", a.ID, err)
	}
	if a.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("appointment %s created_at: %w", a.ID, err)
	}
	if a.UpdatedAt, err = db.ParseStamp(updated); err != nil {
		return nil, fmt.Errorf("appointment %s updated_at: %w", a.ID, err)
	}
	return &a, nil
}

func (r *appointmentRepoSQL) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_document, service_id, starts_at, modality, channel,
			price, paid, status, motive, notes, invoice_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientDocument, nullUUID(a.ServiceID), db.FormatTimestamp(a.StartsAt),
		string(a.Modality), string(a.Channel), a.Price, a.Paid, string(a.Status), a.Motive, a.Notes,
		nullUUID(a.InvoiceID), db.Stamp(a.CreatedAt), db.Stamp(a.UpdatedAt))
	if db.IsUniqueViolation(err) {
		return ErrAppointmentConflict
	}
	return err
}

func (r *appointmentRepoSQL) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = ?`, id))
}

func (r *appointmentRepoSQL) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now()
	res, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE appointments SET patient_document = ?, service_id = ?, starts_at = ?, modality = ?,
			channel = ?, price = ?, paid = ?, status = ?, motive = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		a.PatientDocument, nullUUID(a.ServiceID), db.FormatTimestamp(a.StartsAt), string(a.Modality),
		string(a.Channel), a.Price, a.Paid, string(a.Status), a.Motive, a.Notes, db.Stamp(a.UpdatedAt), a.ID)
	if db.IsUniqueViolation(err) {
		return ErrAppointmentConflict
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoSQL) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.Conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM appointments WHERE id = ?`, id)
}

func (r *appointmentRepoSQL) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return r.exec(ctx, `UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), db.Stamp(time.Now()), id)
}

func (r *appointmentRepoSQL) SetPaid(ctx context.Context, id uuid.UUID, paid bool) error {
	return r.exec(ctx, `UPDATE appointments SET paid = ?, updated_at = ? WHERE id = ?`,
		paid, db.Stamp(time.Now()), id)
}

func (r *appointmentRepoSQL) listWithPatient(ctx context.Context, where string, args ...any) ([]*Appointment, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT `+apptCols+`, p.first_name, p.last_name, p.email
		FROM appointments a
		JOIN patients p ON p.document = a.patient_document
		WHERE `+where+`
		ORDER BY a.starts_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		var first, last, email string
		a, err := scanAppointment(rows, &first, &last, &email)
		if err != nil {
			return nil, err
		}
		a.PatientName = strings.TrimSpace(first + " " + last)
		a.PatientEmail = email
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoSQL) ListWithPatient(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	return r.listWithPatient(ctx, `a.starts_at >= ? AND a.starts_at < ?`,
		db.FormatTimestamp(from), db.FormatTimestamp(to))
}

func (r *appointmentRepoSQL) ListByPatient(ctx context.Context, document string) ([]*Appointment, error) {
	return r.listWithPatient(ctx, `a.patient_document = ?`, document)
}

func (r *appointmentRepoSQL) AppointmentExistsAt(ctx context.Context, at time.Time, excludeID uuid.UUID) (bool, error) {
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE starts_at = ? AND id <> ?`,
		db.FormatTimestamp(at), excludeID).Scan(&n)
	return n > 0, err
}

func (r *appointmentRepoSQL) AppointmentExistsInRange(ctx context.Context, from, to time.Time, excludeID uuid.UUID) (bool, error) {
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE starts_at >= ? AND starts_at < ? AND id <> ?`,
		db.FormatTimestamp(from), db.FormatTimestamp(to), excludeID).Scan(&n)
	return n > 0, err
}

// =========== Block Repository ===========

type blockRepoSQL struct{ db *db.DB }

func NewBlockRepoSQL(d *db.DB) BlockRepository { return &blockRepoSQL{db: d} }

const blockCols = `id, starts_at, ends_at, reason, created_at`

func scanBlock(row scanner) (*Block, error) {
	var b Block
	var starts, ends, created string
	if err := row.Scan(&b.ID, &starts, &ends, &b.Reason, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if b.StartsAt, err = db.ParseTimestamp(starts); err != nil {
		return nil, fmt.Errorf("block %s starts_at: %w", b.ID, err)
	}
	if b.EndsAt, err = db.ParseTimestamp(ends); err != nil {
		return nil, fmt.Errorf("block %s ends_at: %w", b.ID, err)
	}
	if b.CreatedAt, err = db.ParseStamp(created); err != nil {
		return nil, fmt.Errorf("block %s created_at: %w", b.ID, err)
	}
	return &b, nil
}

func (r *blockRepoSQL) Create(ctx context.Context, b *Block) error {
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO schedule_blocks (id, starts_at, ends_at, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID, db.FormatTimestamp(b.StartsAt), db.FormatTimestamp(b.EndsAt), b.Reason, db.Stamp(b.CreatedAt))
	return err
}

func (r *blockRepoSQL) GetByID(ctx context.Context, id uuid.UUID) (*Block, error) {
	return scanBlock(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+blockCols+` FROM schedule_blocks WHERE id = ?`, id))
}

func (r *blockRepoSQL) Update(ctx context.Context, b *Block) error {
	res, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE schedule_blocks SET starts_at = ?, ends_at = ?, reason = ? WHERE id = ?`,
		db.FormatTimestamp(b.StartsAt), db.FormatTimestamp(b.EndsAt), b.Reason, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *blockRepoSQL) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM schedule_blocks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *blockRepoSQL) ListRange(ctx context.Context, from, to time.Time) ([]*Block, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+blockCols+` FROM schedule_blocks WHERE starts_at < ? AND ends_at > ? ORDER BY starts_at`,
		db.FormatTimestamp(to), db.FormatTimestamp(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *blockRepoSQL) BlockExistsAt(ctx context.Context, at time.Time, excludeID uuid.UUID) (bool, error) {
	ts := db.FormatTimestamp(at)
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_blocks WHERE starts_at <= ? AND ends_at > ? AND id <> ?`,
		ts, ts, excludeID).Scan(&n)
	return n > 0, err
}

func (r *blockRepoSQL) BlockExistsInRange(ctx context.Context, from, to time.Time, excludeID uuid.UUID) (bool, error) {
	var n int
	err := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM schedule_blocks WHERE starts_at < ? AND ends_at > ? AND id <> ?`,
		db.FormatTimestamp(to), db.FormatTimestamp(from), excludeID).Scan(&n)
	return n > 0, err
}

// =========== Operating Hours Repository ===========

type hoursRepoSQL struct{ db *db.DB }

func NewHoursRepoSQL(d *db.DB) HoursRepository { return &hoursRepoSQL{db: d} }

func (r *hoursRepoSQL) List(ctx context.Context) ([]OperatingHours, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT weekday, enabled, start_time, end_time FROM operating_hours ORDER BY weekday`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OperatingHours
	for rows.Next() {
		var h OperatingHours
		if err := rows.Scan(&h.Weekday, &h.Enabled, &h.Start, &h.End); err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func (r *hoursRepoSQL) Save(ctx context.Context, hours []OperatingHours) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, h := range hours {
			_, err := r.db.Conn(ctx).Exec(ctx, `
				INSERT INTO operating_hours (weekday, enabled, start_time, end_time)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (weekday) DO UPDATE SET
					enabled = excluded.enabled,
					start_time = excluded.start_time,
					end_time = excluded.end_time`,
				h.Weekday, h.Enabled, h.Start, h.End)
			if err != nil {
				return fmt.Errorf("save hours for weekday %d: %w", h.Weekday, err)
			}
		}
		return nil
	})
}

// =========== Professional Config Repository ===========

type configRepoSQL struct{ db *db.DB }

func NewConfigRepoSQL(d *db.DB) ConfigRepository { return &configRepoSQL{db: d} }

func (r *configRepoSQL) Get(ctx context.Context) (*ProfessionalConfig, error) {
	var c ProfessionalConfig
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT full_name, profession, registration, email, phone,
			default_slot_minutes, auto_backup_enabled, auto_backup_hours
		FROM professional_config WHERE id = 1`).
		Scan(&c.FullName, &c.Profession, &c.Registration, &c.Email, &c.Phone,
			&c.DefaultSlotMinutes, &c.AutoBackupEnabled, &c.AutoBackupHours)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *configRepoSQL) Save(ctx context.Context, c *ProfessionalConfig) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO professional_config (id, full_name, profession, registration, email, phone,
			default_slot_minutes, auto_backup_enabled, auto_backup_hours)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			full_name = excluded.full_name,
			profession = excluded.profession,
			registration = excluded.registration,
			email = excluded.email,
			phone = excluded.phone,
			default_slot_minutes = excluded.default_slot_minutes,
			auto_backup_enabled = excluded.auto_backup_enabled,
			auto_backup_hours = excluded.auto_backup_hours`,
		c.FullName, c.Profession, c.Registration, c.Email, c.Phone,
		c.DefaultSlotMinutes, c.AutoBackupEnabled, c.AutoBackupHours)
	return err
}
