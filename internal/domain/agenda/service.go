package agenda

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/psicoagenda/agenda/internal/domain/catalog"
	"github.com/psicoagenda/agenda/internal/domain/patient"
	"github.com/psicoagenda/agenda/internal/platform/notification"
)

// PatientLookup resolves the patient an appointment is booked for.
type PatientLookup interface {
	GetByDocument(ctx context.Context, document string) (*patient.Patient, error)
}

// ServiceLookup resolves the catalog entry an appointment is priced from.
type ServiceLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
}

// CreditLedger charges and refunds rental credits for in-person sessions.
type CreditLedger interface {
	Consume(ctx context.Context, appointmentID uuid.UUID, on time.Time) error
	Return(ctx context.Context, appointmentID uuid.UUID) error
}

type Notifier interface {
	Dispatch(ev notification.Event)
}

// Transactor runs fn in a single transaction. *db.DB implements it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps wires a Service. Tx, Ledger and Notifier are optional.
type Deps struct {
	Appointments AppointmentRepository
	Blocks       BlockRepository
	Hours        HoursRepository
	Config       ConfigRepository
	Patients     PatientLookup
	Services     ServiceLookup
	Tx           Transactor
	Ledger       CreditLedger
	Notifier     Notifier
	Logger       zerolog.Logger
}

// Service applies the booking rules on top of the agenda repositories.
type Service struct {
	appointments AppointmentRepository
	blocks       BlockRepository
	hours        HoursRepository
	config       ConfigRepository
	patients     PatientLookup
	services     ServiceLookup
	tx           Transactor
	ledger       CreditLedger
	notifier     Notifier
	logger       zerolog.Logger

	// writeMu serializes availability checks with the write they guard.
	writeMu sync.Mutex

	onConfigChange []func(*ProfessionalConfig)
}

func NewService(d Deps) *Service {
	return &Service{
		appointments: d.Appointments,
		blocks:       d.Blocks,
		hours:        d.Hours,
		config:       d.Config,
		patients:     d.Patients,
		services:     d.Services,
		tx:           d.Tx,
		ledger:       d.Ledger,
		notifier:     d.Notifier,
		logger:       d.Logger,
	}
}

// OnConfigChange registers fn to run after the professional config is saved.
func (s *Service) OnConfigChange(fn func(*ProfessionalConfig)) {
	s.onConfigChange = append(s.onConfigChange, fn)
}

// -- Availability --

// guarded runs fn holding the write lock and, when configured, inside a
// transaction, so no other booking or block lands between check and write.
func (s *Service) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.WithTx(ctx, fn)
}

// checkSlot rejects a start time held by another appointment or inside a
// block. excludeID is the appointment being edited.
func (s *Service) checkSlot(ctx context.Context, at time.Time, excludeID uuid.UUID) error {
	taken, err := s.appointments.AppointmentExistsAt(ctx, at, excludeID)
	if err != nil {
		return fmt.Errorf("check appointment at %s: %w", at.Format(time.DateTime), err)
	}
	if taken {
		return ErrAppointmentConflict
	}
	blocked, err := s.blocks.BlockExistsAt(ctx, at, uuid.Nil)
	if err != nil {
		return fmt.Errorf("check block at %s: %w", at.Format(time.DateTime), err)
	}
	if blocked {
		return ErrTimeBlocked
	}
	return nil
}

// checkBlockRange rejects a block range that covers an appointment or
// intersects another block. excludeID is the block being edited.
func (s *Service) checkBlockRange(ctx context.Context, from, to time.Time, excludeID uuid.UUID) error {
	covers, err := s.appointments.AppointmentExistsInRange(ctx, from, to, uuid.Nil)
	if err != nil {
		return err
	}
	if covers {
		return ErrBlockCoversAppointment
	}
	overlaps, err := s.blocks.BlockExistsInRange(ctx, from, to, excludeID)
	if err != nil {
		return err
	}
	if overlaps {
		return ErrBlockOverlap
	}
	return nil
}

// -- Appointments --

// prepare normalizes a, applies defaults and resolves its patient and
// service.
func (s *Service) prepare(ctx context.Context, a *Appointment) (*patient.Patient, error) {
	a.PatientDocument = strings.TrimSpace(a.PatientDocument)
	if a.PatientDocument == "" {
		return nil, fmt.Errorf("%w: patient_document is required", ErrValidation)
	}
	if a.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: starts_at is required", ErrValidation)
	}
	a.StartsAt = truncateMinute(a.StartsAt)
	if a.Status == "" {
		a.Status = StatusReservado
	}
	if !a.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	if a.Channel == "" {
		a.Channel = ChannelPresencial
	}
	if !a.Channel.Valid() {
		return nil, fmt.Errorf("%w: invalid channel %q", ErrValidation, a.Channel)
	}
	if a.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}

	p, err := s.patients.GetByDocument(ctx, a.PatientDocument)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, fmt.Errorf("%w: patient %s does not exist", ErrValidation, a.PatientDocument)
	}
	if err != nil {
		return nil, err
	}

	if a.ServiceID != nil {
		svc, err := s.services.GetByID(ctx, *a.ServiceID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: service %s does not exist", ErrValidation, a.ServiceID)
		}
		if err != nil {
			return nil, err
		}
		a.Modality = svc.Modality
		if a.Price == 0 {
			a.Price = svc.Price
		}
	}
	if a.Modality == "" {
		a.Modality = catalog.ModalityParticular
	}
	if !a.Modality.Valid() {
		return nil, fmt.Errorf("%w: invalid modality %q", ErrValidation, a.Modality)
	}
	return p, nil
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	p, err := s.prepare(ctx, a)
	if err != nil {
		return err
	}
	a.InvoiceID = nil
	err = s.guarded(ctx, func(ctx context.Context) error {
		if err := s.checkSlot(ctx, a.StartsAt, uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return err
	}
	if a.Channel == ChannelPresencial {
		s.consumeCredit(ctx, a)
	}
	s.notify(ctx, notification.KindBooked, a, p)
	return nil
}

// UpdateAppointment replaces the editable fields of an existing appointment.
// Moving between presencial and virtual charges or refunds a credit. An
// invoiced appointment keeps its patient, time, modality and price.
func (s *Service) UpdateAppointment(ctx context.Context, a *Appointment) error {
	p, err := s.prepare(ctx, a)
	if err != nil {
		return err
	}
	var prev *Appointment
	err = s.guarded(ctx, func(ctx context.Context) error {
		var err error
		prev, err = s.appointments.GetByID(ctx, a.ID)
		if err != nil {
			return err
		}
		if prev.InvoiceID != nil && billedFieldsChanged(prev, a) {
			return fmt.Errorf("%w: invoice %s", ErrInvoiced, prev.InvoiceID)
		}
		if err := s.checkSlot(ctx, a.StartsAt, a.ID); err != nil {
			return err
		}
		a.InvoiceID = prev.InvoiceID
		a.CreatedAt = prev.CreatedAt
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return err
	}

	wasPresencial := prev.Channel == ChannelPresencial
	isPresencial := a.Channel == ChannelPresencial
	switch {
	case !wasPresencial && isPresencial:
		s.consumeCredit(ctx, a)
	case wasPresencial && !isPresencial:
		s.returnCredit(ctx, a.ID)
	}
	s.notify(ctx, notification.KindUpdated, a, p)
	return nil
}

// billedFieldsChanged reports whether next alters what an invoice charged
// for prev.
func billedFieldsChanged(prev, next *Appointment) bool {
	return prev.PatientDocument != next.PatientDocument ||
		!prev.StartsAt.Equal(next.StartsAt) ||
		prev.Modality != next.Modality ||
		prev.Price != next.Price
}

// CancelAppointment deletes the appointment and refunds its credit.
// Invoiced appointments stay until their invoice is deleted.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) error {
	var a *Appointment
	err := s.guarded(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a.InvoiceID != nil {
			return fmt.Errorf("%w: invoice %s", ErrInvoiced, a.InvoiceID)
		}
		return s.appointments.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.returnCredit(ctx, id)

	if p, err := s.patients.GetByDocument(ctx, a.PatientDocument); err == nil {
		s.notify(ctx, notification.KindCancelled, a, p)
	}
	return nil
}

// CancelPatientAppointments removes every appointment of a patient without
// notifying, returning how many were removed. Nothing is removed when any
// of them is invoiced.
func (s *Service) CancelPatientAppointments(ctx context.Context, document string) (int, error) {
	items, err := s.appointments.ListByPatient(ctx, document)
	if err != nil {
		return 0, err
	}
	for _, a := range items {
		if a.InvoiceID != nil {
			return 0, fmt.Errorf("%w: appointment %s: %w", patient.ErrInUse, a.ID, ErrInvoiced)
		}
	}
	n := 0
	for _, a := range items {
		if err := s.appointments.Delete(ctx, a.ID); err != nil {
			return n, fmt.Errorf("cancel appointment %s: %w", a.ID, err)
		}
		s.returnCredit(ctx, a.ID)
		n++
	}
	return n, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// ListAppointments returns appointments starting in [from, to) with their
// patient's name.
func (s *Service) ListAppointments(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	return s.appointments.ListWithPatient(ctx, from, to)
}

func (s *Service) ListPatientAppointments(ctx context.Context, document string) ([]*Appointment, error) {
	return s.appointments.ListByPatient(ctx, document)
}

func (s *Service) SetAppointmentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	return s.appointments.SetStatus(ctx, id, status)
}

func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paid bool) error {
	return s.appointments.SetPaid(ctx, id, paid)
}

func (s *Service) consumeCredit(ctx context.Context, a *Appointment) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Consume(ctx, a.ID, a.StartsAt); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Msg("rental credit not consumed")
	}
}

func (s *Service) returnCredit(ctx context.Context, id uuid.UUID) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Return(ctx, id); err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", id.String()).
			Msg("rental credit not returned")
	}
}

func (s *Service) notify(ctx context.Context, kind notification.Kind, a *Appointment, p *patient.Patient) {
	if s.notifier == nil || p == nil {
		return
	}
	ev := notification.Event{
		Kind:          kind,
		AppointmentID: a.ID.String(),
		PatientName:   p.FullName(),
		Email:         p.Email,
		StartsAt:      a.StartsAt,
		Channel:       string(a.Channel),
	}
	if cfg, err := s.config.Get(ctx); err == nil {
		ev.Professional = cfg.FullName
	}
	s.notifier.Dispatch(ev)
}

// -- Blocks --

func (s *Service) validateBlock(b *Block) error {
	if b.StartsAt.IsZero() || b.EndsAt.IsZero() {
		return fmt.Errorf("%w: starts_at and ends_at are required", ErrValidation)
	}
	b.StartsAt = truncateMinute(b.StartsAt)
	b.EndsAt = truncateMinute(b.EndsAt)
	if !b.StartsAt.Before(b.EndsAt) {
		return fmt.Errorf("%w: starts_at must be before ends_at", ErrValidation)
	}
	b.Reason = strings.TrimSpace(b.Reason)
	return nil
}

func (s *Service) CreateBlock(ctx context.Context, b *Block) error {
	if err := s.validateBlock(b); err != nil {
		return err
	}
	return s.guarded(ctx, func(ctx context.Context) error {
		if err := s.checkBlockRange(ctx, b.StartsAt, b.EndsAt, uuid.Nil); err != nil {
			return err
		}
		return s.blocks.Create(ctx, b)
	})
}

func (s *Service) UpdateBlock(ctx context.Context, b *Block) error {
	if err := s.validateBlock(b); err != nil {
		return err
	}
	return s.guarded(ctx, func(ctx context.Context) error {
		prev, err := s.blocks.GetByID(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := s.checkBlockRange(ctx, b.StartsAt, b.EndsAt, b.ID); err != nil {
			return err
		}
		b.CreatedAt = prev.CreatedAt
		return s.blocks.Update(ctx, b)
	})
}

func (s *Service) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	return s.blocks.Delete(ctx, id)
}

func (s *Service) ListBlocks(ctx context.Context, from, to time.Time) ([]*Block, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	return s.blocks.ListRange(ctx, from, to)
}

// -- Operating hours --

func (s *Service) OperatingHours(ctx context.Context) ([]OperatingHours, error) {
	return s.hours.List(ctx)
}

// SetOperatingHours saves the given weekdays. Enabled days need a start
// before their end.
func (s *Service) SetOperatingHours(ctx context.Context, hours []OperatingHours) error {
	if len(hours) == 0 {
		return fmt.Errorf("%w: no operating hours given", ErrValidation)
	}
	seen := make(map[int]bool, len(hours))
	for i := range hours {
		h := &hours[i]
		if h.Weekday < 0 || h.Weekday > 6 {
			return fmt.Errorf("%w: weekday %d out of range 0-6", ErrValidation, h.Weekday)
		}
		if seen[h.Weekday] {
			return fmt.Errorf("%w: weekday %d given twice", ErrValidation, h.Weekday)
		}
		seen[h.Weekday] = true

		h.Start = strings.TrimSpace(h.Start)
		h.End = strings.TrimSpace(h.End)
		start, end, err := h.Minutes()
		if err != nil {
			return err
		}
		if h.Enabled && start >= end {
			return fmt.Errorf("%w: weekday %d opens at %s and closes at %s", ErrValidation, h.Weekday, h.Start, h.End)
		}
	}
	return s.hours.Save(ctx, hours)
}

// -- Professional config --

func (s *Service) ProfessionalConfig(ctx context.Context) (*ProfessionalConfig, error) {
	return s.config.Get(ctx)
}

func (s *Service) UpdateProfessionalConfig(ctx context.Context, cfg *ProfessionalConfig) error {
	if !ValidSlotMinutes(cfg.DefaultSlotMinutes) {
		return fmt.Errorf("%w: default_slot_minutes must be one of %v", ErrValidation, AllowedSlotMinutes)
	}
	if cfg.AutoBackupHours < 1 {
		return fmt.Errorf("%w: auto_backup_hours must be at least 1", ErrValidation)
	}
	cfg.Email = strings.TrimSpace(cfg.Email)
	if cfg.Email != "" {
		if _, err := mail.ParseAddress(cfg.Email); err != nil {
			return fmt.Errorf("%w: invalid email %q", ErrValidation, cfg.Email)
		}
	}
	if err := s.config.Save(ctx, cfg); err != nil {
		return err
	}
	for _, fn := range s.onConfigChange {
		fn(cfg)
	}
	return nil
}

// -- Grid --

// WeekGrid builds the grid of the week containing weekStart. slotMinutes 0
// uses the configured default.
func (s *Service) WeekGrid(ctx context.Context, weekStart time.Time, slotMinutes int) (*WeekGrid, error) {
	if slotMinutes == 0 {
		cfg, err := s.config.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("load professional config: %w", err)
		}
		slotMinutes = cfg.DefaultSlotMinutes
	}
	if !ValidSlotMinutes(slotMinutes) {
		return nil, fmt.Errorf("%w: %d minutes (allowed %v)", ErrInvalidSlotSize, slotMinutes, AllowedSlotMinutes)
	}

	monday := MondayOf(weekStart)
	next := monday.AddDate(0, 0, 7)
	hours, err := s.hours.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load operating hours: %w", err)
	}
	appts, err := s.appointments.ListWithPatient(ctx, monday, next)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	blocks, err := s.blocks.ListRange(ctx, monday, next)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	return BuildWeekGrid(monday, slotMinutes, hours, appts, blocks)
}

// FreeSlots lists the bookable slot starts of the week.
func (s *Service) FreeSlots(ctx context.Context, weekStart time.Time, slotMinutes int) ([]time.Time, error) {
	g, err := s.WeekGrid(ctx, weekStart, slotMinutes)
	if err != nil {
		return nil, err
	}
	slots := g.OpenSlots()
	if slots == nil {
		slots = []time.Time{}
	}
	return slots, nil
}
