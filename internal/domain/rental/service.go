package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service manages rental packages and their consumption ledger.
type Service struct {
	packages     PackageRepository
	consumptions ConsumptionRepository
	tx           Transactor
	logger       zerolog.Logger
}

func NewService(pkgs PackageRepository, cons ConsumptionRepository, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{packages: pkgs, consumptions: cons, tx: tx, logger: logger}
}

// -- Packages --

func (s *Service) CreatePackage(ctx context.Context, p *Package) error {
	if p.PurchasedOn.IsZero() {
		return fmt.Errorf("%w: purchased_on is required", ErrValidation)
	}
	if p.Credits < 1 {
		return fmt.Errorf("%w: credits must be at least 1", ErrValidation)
	}
	if p.TotalCost < 0 {
		return fmt.Errorf("%w: total_cost must not be negative", ErrValidation)
	}
	y, m, d := p.PurchasedOn.Date()
	p.PurchasedOn = time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	p.Used = 0
	return s.packages.Create(ctx, p)
}

func (s *Service) GetPackage(ctx context.Context, id uuid.UUID) (*Package, error) {
	return s.packages.GetByID(ctx, id)
}

func (s *Service) ListPackages(ctx context.Context) ([]*Package, error) {
	return s.packages.List(ctx)
}

// DeletePackage refuses packages that already paid for an appointment.
func (s *Service) DeletePackage(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.packages.GetByID(ctx, id); err != nil {
			return err
		}
		n, err := s.consumptions.CountByPackage(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrPackageInUse
		}
		return s.packages.Delete(ctx, id)
	})
}

func (s *Service) ListConsumptions(ctx context.Context, packageID uuid.UUID) ([]*Consumption, error) {
	if _, err := s.packages.GetByID(ctx, packageID); err != nil {
		return nil, err
	}
	return s.consumptions.ListByPackage(ctx, packageID)
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	pkgs, err := s.packages.List(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(pkgs), nil
}

// -- Ledger --

// Consume charges one credit of the oldest package with capacity to the
// appointment. It is a no-op when the appointment already holds a credit and
// returns ErrNoCredits when no package has capacity.
func (s *Service) Consume(ctx context.Context, appointmentID uuid.UUID, on time.Time) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.consumptions.GetByAppointment(ctx, appointmentID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		pkg, err := s.packages.OldestWithCredit(ctx)
		if errors.Is(err, ErrNotFound) {
			return ErrNoCredits
		}
		if err != nil {
			return err
		}

		c := &Consumption{AppointmentID: appointmentID, PackageID: pkg.ID, ConsumedOn: on}
		if err := s.consumptions.Create(ctx, c); err != nil {
			return fmt.Errorf("record consumption: %w", err)
		}
		ok, err := s.packages.IncrementUsed(ctx, pkg.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoCredits
		}

		s.logger.Debug().
			Str("appointment_id", appointmentID.String()).
			Str("package_id", pkg.ID.String()).
			Msg("rental credit consumed")
		return nil
	})
}

// Return gives the appointment's credit back to its package. Appointments
// without a consumption record are ignored.
func (s *Service) Return(ctx context.Context, appointmentID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		c, err := s.consumptions.GetByAppointment(ctx, appointmentID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.consumptions.Delete(ctx, c.ID); err != nil {
			return fmt.Errorf("delete consumption: %w", err)
		}
		if _, err := s.packages.DecrementUsed(ctx, c.PackageID); err != nil {
			return err
		}

		s.logger.Debug().
			Str("appointment_id", appointmentID.String()).
			Str("package_id", c.PackageID.String()).
			Msg("rental credit returned")
		return nil
	})
}
