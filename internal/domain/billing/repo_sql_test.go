package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/domain/agenda"
	"github.com/psicoagenda/agenda/internal/domain/catalog"
	"github.com/psicoagenda/agenda/internal/domain/patient"
	"github.com/psicoagenda/agenda/internal/platform/db"
	"github.com/psicoagenda/agenda/internal/platform/db/dbtest"
)

type sqlFixture struct {
	svc   *Service
	appts agenda.AppointmentRepository
	sura  uuid.UUID
}

func newSQLFixture(t *testing.T) *sqlFixture {
	t.Helper()
	d := dbtest.Open(t)
	ctx := context.Background()

	if err := patient.NewPatientRepoSQL(d).Create(ctx, &patient.Patient{Document: "1020", FirstName: "Ana", LastName: "Gómez"}); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	services := catalog.NewRepoSQL(d)
	sura := &catalog.Service{Name: "Psicoterapia", Price: 90000, Modality: catalog.ModalityConvenio, Company: "Sura", Active: true}
	if err := services.Create(ctx, sura); err != nil {
		t.Fatalf("seed service: %v", err)
	}

	svc := NewService(NewRepoSQL(d), d, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.Local) }
	return &sqlFixture{svc: svc, appts: agenda.NewAppointmentRepoSQL(d), sura: sura.ID}
}

func (f *sqlFixture) book(t *testing.T, day, hour int, serviceID *uuid.UUID, modality catalog.Modality) *agenda.Appointment {
	t.Helper()
	a := &agenda.Appointment{
		PatientDocument: "1020",
		ServiceID:       serviceID,
		StartsAt:        time.Date(2026, 3, day, hour, 0, 0, 0, time.Local),
		Modality:        modality,
		Channel:         agenda.ChannelVirtual,
		Price:           90000,
		Status:          agenda.StatusReservado,
	}
	if err := f.appts.Create(context.Background(), a); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	return a
}

func TestRepoSQL_InvoiceLifecycle(t *testing.T) {
	f := newSQLFixture(t)
	ctx := context.Background()
	from, to := march()

	a1 := f.book(t, 2, 9, &f.sura, catalog.ModalityConvenio)
	a2 := f.book(t, 16, 9, &f.sura, catalog.ModalityConvenio)
	f.book(t, 3, 9, nil, catalog.ModalityParticular)
	outside := f.book(t, 31, 23, &f.sura, catalog.ModalityConvenio)
	outside.StartsAt = time.Date(2026, 4, 1, 9, 0, 0, 0, time.Local)
	if err := f.appts.Update(ctx, outside); err != nil {
		t.Fatalf("move appointment: %v", err)
	}

	inv, err := f.svc.GenerateInvoice(ctx, "sura", from, to)
	if err != nil {
		t.Fatalf("GenerateInvoice: %v", err)
	}
	if inv.Number != "2026-0001" || inv.Total != 180000 || len(inv.Items) != 2 {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if inv.Items[0].AppointmentID != a1.ID || inv.Items[1].AppointmentID != a2.ID || inv.Items[0].ServiceName != "Psicoterapia" {
		t.Errorf("unexpected items %+v", inv.Items)
	}

	linked, _ := f.appts.GetByID(ctx, a1.ID)
	if linked.InvoiceID == nil || *linked.InvoiceID != inv.ID {
		t.Errorf("expected appointment linked to invoice, got %v", linked.InvoiceID)
	}

	if _, err := f.svc.GenerateInvoice(ctx, "Sura", from, to); !errors.Is(err, ErrNothingToInvoice) {
		t.Errorf("expected ErrNothingToInvoice the second time, got %v", err)
	}

	got, err := f.svc.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if !got.PeriodStart.Equal(from) || !got.PeriodEnd.Equal(to) || len(got.Items) != 2 || got.Items[0].PatientName != "Ana Gómez" {
		t.Errorf("unexpected stored invoice %+v", got)
	}

	if err := f.svc.MarkInvoicePaid(ctx, inv.ID); err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	paid, _ := f.appts.GetByID(ctx, a2.ID)
	if !paid.Paid {
		t.Error("expected linked appointment marked paid")
	}

	items, total, err := f.svc.ListInvoices(ctx, "SURA", 10, 0)
	if err != nil {
		t.Fatalf("ListInvoices: %v", err)
	}
	if total != 1 || len(items) != 1 || !items[0].Paid {
		t.Errorf("unexpected list %d %+v", total, items)
	}

	if err := f.svc.DeleteInvoice(ctx, inv.ID); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	released, _ := f.appts.GetByID(ctx, a1.ID)
	if released.InvoiceID != nil {
		t.Error("expected appointment released")
	}
	if err := f.svc.DeleteInvoice(ctx, inv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	again, err := f.svc.GenerateInvoice(ctx, "Sura", from, to)
	if err != nil {
		t.Fatalf("re-invoice after delete: %v", err)
	}
	if again.Number != "2026-0001" || len(again.Items) != 2 {
		t.Errorf("unexpected re-issued invoice %+v", again)
	}
}

func TestRepoSQL_LastNumber(t *testing.T) {
	d := dbtest.Open(t)
	repo := NewRepoSQL(d)
	ctx := context.Background()

	last, err := repo.LastNumber(ctx, 2026)
	if err != nil || last != "" {
		t.Fatalf("expected empty, got %q, %v", last, err)
	}
	for _, n := range []string{"2025-0007", "2026-0002", "2026-0010"} {
		dbtest.Exec(t, d, `INSERT INTO invoices (id, number, company, period_start, period_end, total, issued_on, paid, created_at)
			VALUES (?, ?, 'Sura', '2026-01-01', '2026-02-01', 0, '2026-02-01', ?, ?)`,
			uuid.New(), n, false, db.Stamp(time.Now()))
	}
	if last, _ := repo.LastNumber(ctx, 2026); last != "2026-0010" {
		t.Errorf("expected 2026-0010, got %q", last)
	}
	if last, _ := repo.LastNumber(ctx, 2025); last != "2025-0007" {
		t.Errorf("expected 2025-0007, got %q", last)
	}
}
