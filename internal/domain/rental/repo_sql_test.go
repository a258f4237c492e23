package rental

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/platform/db/dbtest"
)

func newSQLService(t *testing.T) (*Service, PackageRepository) {
	t.Helper()
	d := dbtest.Open(t)
	pkgs := NewPackageRepoSQL(d)
	return NewService(pkgs, NewConsumptionRepoSQL(d), d, zerolog.Nop()), pkgs
}

func TestPackageRepoSQL_CRUD(t *testing.T) {
	d := dbtest.Open(t)
	repo := NewPackageRepoSQL(d)
	ctx := context.Background()

	p := &Package{PurchasedOn: day(2026, 3, 1), Credits: 10, TotalCost: 250000, Notes: "consultorio 3"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.PurchasedOn.Equal(day(2026, 3, 1)) || got.Credits != 10 || got.TotalCost != 250000 || got.Notes != "consultorio 3" {
		t.Errorf("unexpected package: %+v", got)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPackageRepoSQL_UsedGuards(t *testing.T) {
	d := dbtest.Open(t)
	repo := NewPackageRepoSQL(d)
	ctx := context.Background()

	p := &Package{PurchasedOn: day(2026, 3, 1), Credits: 1}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if ok, err := repo.DecrementUsed(ctx, p.ID); err != nil || ok {
		t.Fatalf("decrement at zero: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.IncrementUsed(ctx, p.ID); err != nil || !ok {
		t.Fatalf("increment: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.IncrementUsed(ctx, p.ID); err != nil || ok {
		t.Fatalf("increment past credits: ok=%v err=%v", ok, err)
	}
	if _, err := repo.OldestWithCredit(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no package with credit, got %v", err)
	}
}

func TestLedgerSQL_ConsumeAndReturn(t *testing.T) {
	svc, pkgs := newSQLService(t)
	ctx := context.Background()

	older := mustCreatePackage(t, svc, day(2026, 1, 10), 1, 100)
	newer := mustCreatePackage(t, svc, day(2026, 2, 10), 1, 100)
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()

	if err := svc.Consume(ctx, a1, day(2026, 2, 11)); err != nil {
		t.Fatalf("Consume a1: %v", err)
	}
	if err := svc.Consume(ctx, a1, day(2026, 2, 11)); err != nil {
		t.Fatalf("Consume a1 again: %v", err)
	}
	if err := svc.Consume(ctx, a2, day(2026, 2, 12)); err != nil {
		t.Fatalf("Consume a2: %v", err)
	}
	if err := svc.Consume(ctx, a3, day(2026, 2, 13)); !errors.Is(err, ErrNoCredits) {
		t.Fatalf("expected ErrNoCredits, got %v", err)
	}

	o, _ := pkgs.GetByID(ctx, older.ID)
	n, _ := pkgs.GetByID(ctx, newer.ID)
	if o.Used != 1 || n.Used != 1 {
		t.Fatalf("expected both packages used once, got %d and %d", o.Used, n.Used)
	}

	cons, err := svc.ListConsumptions(ctx, older.ID)
	if err != nil {
		t.Fatalf("ListConsumptions: %v", err)
	}
	if len(cons) != 1 || cons[0].AppointmentID != a1 {
		t.Fatalf("expected a1 charged to the older package, got %+v", cons)
	}

	if err := svc.DeletePackage(ctx, older.ID); !errors.Is(err, ErrPackageInUse) {
		t.Errorf("expected ErrPackageInUse, got %v", err)
	}

	if err := svc.Return(ctx, a1); err != nil {
		t.Fatalf("Return: %v", err)
	}
	o, _ = pkgs.GetByID(ctx, older.ID)
	if o.Used != 0 {
		t.Errorf("expected credit returned, used=%d", o.Used)
	}

	// The freed credit goes to the next consumer.
	if err := svc.Consume(ctx, a3, day(2026, 2, 14)); err != nil {
		t.Fatalf("Consume a3 after return: %v", err)
	}
	summary, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.TotalUsed != 2 || summary.TotalRemaining != 0 {
		t.Errorf("unexpected summary totals: %+v", summary)
	}
}
