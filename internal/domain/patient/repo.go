package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByDocument(ctx context.Context, document string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, document string) error
	// Search matches query against the document and names. An empty query
	// lists everyone.
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error)
	ListByPatient(ctx context.Context, document string) ([]*ClinicalNote, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
