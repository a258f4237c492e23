package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Uninvoiced lists convenio appointments of company starting in
	// [from, to) that no invoice holds yet.
	Uninvoiced(ctx context.Context, company string, from, to time.Time) ([]Item, error)
	// LastNumber returns the highest invoice number issued in year, or ""
	// when there is none.
	LastNumber(ctx context.Context, year int) (string, error)
	Create(ctx context.Context, inv *Invoice) error
	Link(ctx context.Context, invoiceID uuid.UUID, appointmentIDs []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Items(ctx context.Context, invoiceID uuid.UUID) ([]Item, error)
	List(ctx context.Context, company string, limit, offset int) ([]*Invoice, int, error)
	// MarkPaid flags the invoice and every appointment it holds as paid.
	MarkPaid(ctx context.Context, id uuid.UUID) error
	// Delete unlinks the invoice's appointments and removes it.
	Delete(ctx context.Context, id uuid.UUID) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
