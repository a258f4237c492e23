package rental

import (
	"context"

	"github.com/google/uuid"
)

type PackageRepository interface {
	Create(ctx context.Context, p *Package) error
	GetByID(ctx context.Context, id uuid.UUID) (*Package, error)
	List(ctx context.Context) ([]*Package, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// OldestWithCredit returns the oldest package with used < credits, or
	// ErrNotFound.
	OldestWithCredit(ctx context.Context) (*Package, error)
	// IncrementUsed and DecrementUsed report false when the guard
	// (used < credits, used > 0) rejected the change.
	IncrementUsed(ctx context.Context, id uuid.UUID) (bool, error)
	DecrementUsed(ctx context.Context, id uuid.UUID) (bool, error)
}

type ConsumptionRepository interface {
	Create(ctx context.Context, c *Consumption) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consumption, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPackage(ctx context.Context, packageID uuid.UUID) ([]*Consumption, error)
	CountByPackage(ctx context.Context, packageID uuid.UUID) (int, error)
}

// Transactor runs fn in a single transaction. *db.DB implements it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
