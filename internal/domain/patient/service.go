package patient

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

// AppointmentCanceller cancels every appointment of a patient, returning any
// rental credit they held.
type AppointmentCanceller interface {
	CancelPatientAppointments(ctx context.Context, document string) (int, error)
}

type Service struct {
	patients  PatientRepository
	notes     NoteRepository
	canceller AppointmentCanceller
	logger    zerolog.Logger
}

func NewService(patients PatientRepository, notes NoteRepository, logger zerolog.Logger) *Service {
	return &Service{patients: patients, notes: notes, logger: logger}
}

// SetCanceller wires the agenda, which itself depends on this package's
// repository.
func (s *Service) SetCanceller(c AppointmentCanceller) {
	s.canceller = c
}

func validatePatient(p *Patient) error {
	p.Document = strings.TrimSpace(p.Document)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	p.BirthDate = strings.TrimSpace(p.BirthDate)

	if p.Document == "" {
		return fmt.Errorf("%w: document is required", ErrValidation)
	}
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil || !strings.Contains(p.Email, "@") {
			return fmt.Errorf("%w: invalid email: %s", ErrValidation, p.Email)
		}
	}
	if p.BirthDate != "" {
		bd, err := db.ParseDate(p.BirthDate)
		if err != nil {
			return fmt.Errorf("%w: birth_date must be YYYY-MM-DD", ErrValidation)
		}
		if bd.After(time.Now()) {
			return fmt.Errorf("%w: birth_date is in the future", ErrValidation)
		}
	}
	return nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, document string) (*Patient, error) {
	return s.patients.GetByDocument(ctx, document)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

// DeletePatient cancels the patient's appointments before removing the
// record; clinical notes go with it.
func (s *Service) DeletePatient(ctx context.Context, document string) error {
	if _, err := s.patients.GetByDocument(ctx, document); err != nil {
		return err
	}
	if s.canceller != nil {
		n, err := s.canceller.CancelPatientAppointments(ctx, document)
		if err != nil {
			return fmt.Errorf("cancel appointments of %s: %w", document, err)
		}
		if n > 0 {
			s.logger.Info().Str("patient", document).Int("appointments", n).Msg("appointments cancelled for deleted patient")
		}
	}
	return s.patients.Delete(ctx, document)
}

func (s *Service) SearchPatients(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, query, limit, offset)
}

// -- Clinical notes --

func (s *Service) AddNote(ctx context.Context, n *ClinicalNote) error {
	n.Body = strings.TrimSpace(n.Body)
	n.DiagnosisCode = strings.TrimSpace(n.DiagnosisCode)
	if n.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if _, err := s.patients.GetByDocument(ctx, n.PatientDocument); err != nil {
		return err
	}
	if n.NoteDate.IsZero() {
		n.NoteDate = time.Now()
	}
	y, m, d := n.NoteDate.Date()
	n.NoteDate = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	return s.notes.Create(ctx, n)
}

func (s *Service) ListNotes(ctx context.Context, document string) ([]*ClinicalNote, error) {
	if _, err := s.patients.GetByDocument(ctx, document); err != nil {
		return nil, err
	}
	return s.notes.ListByPatient(ctx, document)
}

func (s *Service) DeleteNote(ctx context.Context, id uuid.UUID) error {
	return s.notes.Delete(ctx, id)
}
