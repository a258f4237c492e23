// Package patient stores patient records and their clinical notes. Patients
// are keyed by their identity document.
package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("a patient with this document already exists")
	ErrInUse      = errors.New("the patient has invoiced appointments")
)

type Patient struct {
	Document         string    `json:"document"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	BirthDate        string    `json:"birth_date"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	Address          string    `json:"address"`
	EmergencyContact string    `json:"emergency_contact"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"created_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ClinicalNote is a dated entry in a patient's record.
type ClinicalNote struct {
	ID              uuid.UUID `json:"id"`
	PatientDocument string    `json:"patient_document"`
	NoteDate        time.Time `json:"note_date"`
	DiagnosisCode   string    `json:"diagnosis_code"`
	Body            string    `json:"body"`
	CreatedAt       time.Time `json:"created_at"`
}
