package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	tx     Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger, now: time.Now}
}

// nextNumber follows last ("YYYY-NNNN") within year.
func nextNumber(year int, last string) (string, error) {
	seq := 0
	if last != "" {
		_, suffix, ok := strings.Cut(last, "-")
		if !ok {
			return "", fmt.Errorf("malformed invoice number %q", last)
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return "", fmt.Errorf("malformed invoice number %q: %w", last, err)
		}
		seq = n
	}
	return fmt.Sprintf("%04d-%04d", year, seq+1), nil
}

// GenerateInvoice bills company for its uninvoiced convenio appointments
// starting in [from, to).
func (s *Service) GenerateInvoice(ctx context.Context, company string, from, to time.Time) (*Invoice, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("%w: company is required", ErrValidation)
	}
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, fmt.Errorf("%w: period start must be before its end", ErrValidation)
	}

	var inv *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		items, err := s.repo.Uninvoiced(ctx, company, from, to)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrNothingToInvoice
		}

		issued := s.now()
		last, err := s.repo.LastNumber(ctx, issued.Year())
		if err != nil {
			return err
		}
		number, err := nextNumber(issued.Year(), last)
		if err != nil {
			return err
		}

		inv = &Invoice{
			Number:      number,
			Company:     company,
			PeriodStart: from,
			PeriodEnd:   to,
			Total:       sumItems(items),
			IssuedOn:    issued,
			Items:       items,
		}
		if err := s.repo.Create(ctx, inv); err != nil {
			return err
		}
		ids := make([]uuid.UUID, len(items))
		for i, it := range items {
			ids[i] = it.AppointmentID
		}
		return s.repo.Link(ctx, inv.ID, ids)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice", inv.Number).
		Str("company", inv.Company).
		Int("items", len(inv.Items)).
		Int64("total", inv.Total).
		Msg("invoice generated")
	return inv, nil
}

// GetInvoice returns the invoice with its items.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = s.repo.Items(ctx, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) ListInvoices(ctx context.Context, company string, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, strings.TrimSpace(company), limit, offset)
}

func (s *Service) MarkInvoicePaid(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkPaid(ctx, id)
}

// DeleteInvoice releases the appointments so they can be invoiced again.
func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
