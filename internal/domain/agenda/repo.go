package agenda

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository persists appointments. excludeID == uuid.Nil
// excludes nothing.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetPaid(ctx context.Context, id uuid.UUID, paid bool) error
	// ListWithPatient returns appointments with from <= starts_at < to,
	// joined with their patient, ordered by start.
	ListWithPatient(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, document string) ([]*Appointment, error)

	AppointmentExistsAt(ctx context.Context, at time.Time, excludeID uuid.UUID) (bool, error)
	AppointmentExistsInRange(ctx context.Context, from, to time.Time, excludeID uuid.UUID) (bool, error)
}

type BlockRepository interface {
	Create(ctx context.Context, b *Block) error
	GetByID(ctx context.Context, id uuid.UUID) (*Block, error)
	Update(ctx context.Context, b *Block) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListRange returns blocks intersecting [from, to).
	ListRange(ctx context.Context, from, to time.Time) ([]*Block, error)

	BlockExistsAt(ctx context.Context, at time.Time, excludeID uuid.UUID) (bool, error)
	BlockExistsInRange(ctx context.Context, from, to time.Time, excludeID uuid.UUID) (bool, error)
}

type HoursRepository interface {
	List(ctx context.Context) ([]OperatingHours, error)
	Save(ctx context.Context, hours []OperatingHours) error
}

type ConfigRepository interface {
	Get(ctx context.Context) (*ProfessionalConfig, error)
	Save(ctx context.Context, cfg *ProfessionalConfig) error
}
