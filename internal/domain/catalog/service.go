package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Manager applies the catalog rules on top of a Repository.
type Manager struct {
	repo Repository
}

func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo}
}

func normalize(s *Service) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Company = strings.TrimSpace(s.Company)
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if s.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if s.Modality == "" {
		s.Modality = ModalityParticular
	}
	if !s.Modality.Valid() {
		return fmt.Errorf("%w: invalid modality: %s", ErrValidation, s.Modality)
	}
	switch s.Modality {
	case ModalityConvenio:
		if s.Company == "" {
			return fmt.Errorf("%w: company is required for convenio services", ErrValidation)
		}
	case ModalityParticular:
		s.Company = ""
	}
	return nil
}

// CreateService stores a new active service.
func (m *Manager) CreateService(ctx context.Context, s *Service) error {
	if err := normalize(s); err != nil {
		return err
	}
	s.Active = true
	return m.repo.Create(ctx, s)
}

func (m *Manager) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Manager) UpdateService(ctx context.Context, s *Service) error {
	if err := normalize(s); err != nil {
		return err
	}
	return m.repo.Update(ctx, s)
}

// DeleteService removes the service. Appointments that referenced it keep
// their own modality and price.
func (m *Manager) DeleteService(ctx context.Context, id uuid.UUID) error {
	return m.repo.Delete(ctx, id)
}

func (m *Manager) ListServices(ctx context.Context, f Filter) ([]*Service, error) {
	if f.Modality != "" && !f.Modality.Valid() {
		return nil, fmt.Errorf("%w: invalid modality: %s", ErrValidation, f.Modality)
	}
	return m.repo.List(ctx, f)
}
