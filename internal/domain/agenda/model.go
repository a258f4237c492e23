// Package agenda books appointments and downtime blocks against the
// practice's operating hours, and renders the weekly availability grid.
package agenda

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psicoagenda/agenda/internal/domain/catalog"
	"github.com/psicoagenda/agenda/internal/platform/db"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation failed")
	ErrAppointmentConflict    = errors.New("another appointment already exists at this time")
	ErrTimeBlocked            = errors.New("the agenda is blocked at this time")
	ErrBlockCoversAppointment = errors.New("the block covers an existing appointment")
	ErrBlockOverlap           = errors.New("the block overlaps another block")
	ErrInvalidSlotSize        = errors.New("invalid slot size")
	ErrInvoiced               = errors.New("the appointment is already invoiced")
)

// Channel is how a session is delivered.
type Channel string

const (
	ChannelPresencial Channel = "presencial"
	ChannelVirtual    Channel = "virtual"
)

func (c Channel) Valid() bool {
	return c == ChannelPresencial || c == ChannelVirtual
}

type Status string

const (
	StatusReservado  Status = "reservado"
	StatusConfirmado Status = "confirmado"
	StatusNoAsistio  Status = "no_asistio"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReservado, StatusConfirmado, StatusNoAsistio:
		return true
	}
	return false
}

// Appointment is a booked session. PatientName and PatientEmail are filled
// by listings that join the patient.
type Appointment struct {
	ID              uuid.UUID        `json:"id"`
	PatientDocument string           `json:"patient_document"`
	ServiceID       *uuid.UUID       `json:"service_id,omitempty"`
	StartsAt        time.Time        `json:"starts_at"`
	Modality        catalog.Modality `json:"modality"`
	Channel         Channel          `json:"channel"`
	Price           int64            `json:"price"`
	Paid            bool             `json:"paid"`
	Status          Status           `json:"status"`
	Motive          string           `json:"motive"`
	Notes           string           `json:"notes"`
	InvoiceID       *uuid.UUID       `json:"invoice_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`

	PatientName  string `json:"patient_name,omitempty"`
	PatientEmail string `json:"patient_email,omitempty"`
}

// Block is a downtime range [StartsAt, EndsAt) without a patient.
type Block struct {
	ID        uuid.UUID `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Contains reports whether t falls within [StartsAt, EndsAt).
func (b *Block) Contains(t time.Time) bool {
	return !t.Before(b.StartsAt) && t.Before(b.EndsAt)
}

// OperatingHours is the opening window of one weekday. Weekday 0 is Monday.
// Start and End are "HH:MM".
type OperatingHours struct {
	Weekday int    `json:"weekday"`
	Enabled bool   `json:"enabled"`
	Start   string `json:"start_time"`
	End     string `json:"end_time"`
}

// Minutes returns the window as minutes since midnight.
func (h OperatingHours) Minutes() (start, end int, err error) {
	if start, err = clockMinutes(h.Start); err != nil {
		return 0, 0, err
	}
	if end, err = clockMinutes(h.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse(db.ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q, want HH:MM", ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ProfessionalConfig is the single settings row of the practice.
type ProfessionalConfig struct {
	FullName           string `json:"full_name"`
	Profession         string `json:"profession"`
	Registration       string `json:"registration"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	DefaultSlotMinutes int    `json:"default_slot_minutes"`
	AutoBackupEnabled  bool   `json:"auto_backup_enabled"`
	AutoBackupHours    int    `json:"auto_backup_hours"`
}

// AllowedSlotMinutes lists the grid granularities on offer.
var AllowedSlotMinutes = []int{10, 15, 20, 30, 45, 60}

func ValidSlotMinutes(n int) bool {
	for _, v := range AllowedSlotMinutes {
		if v == n {
			return true
		}
	}
	return false
}

// WeekdayIndex maps t to 0=Monday..6=Sunday.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// MondayOf returns local midnight of the Monday starting t's week.
func MondayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -WeekdayIndex(day))
}

// ParseWhen accepts "YYYY-MM-DD HH:MM", "YYYY-MM-DDTHH:MM" or RFC 3339 and
// truncates to the minute.
func ParseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{db.TimestampLayout, "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q, want YYYY-MM-DD HH:MM", ErrValidation, s)
	}
	return t.In(time.Local).Truncate(time.Minute), nil
}

func truncateMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
