// Package notification sends booking notices to patients. Delivery is fire
// and forget: failures are logged and never reach the booking path.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies the template used for an event.
type Kind string

const (
	KindBooked    Kind = "appointment-booked"
	KindUpdated   Kind = "appointment-updated"
	KindCancelled Kind = "appointment-cancelled"
)

// Event describes something that happened to an appointment.
type Event struct {
	Kind          Kind
	AppointmentID string
	PatientName   string
	Email         string
	StartsAt      time.Time
	Channel       string
	Professional  string
}

func (ev Event) data() map[string]string {
	return map[string]string{
		"patient_name": ev.PatientName,
		"date":         ev.StartsAt.Format("2006-01-02"),
		"time":         ev.StartsAt.Format("15:04"),
		"channel":      ev.Channel,
		"professional": ev.Professional,
	}
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	Subject string
	Body    string
}

// TemplateEngine holds the templates for each event kind.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]Template
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[Kind]Template{
			KindBooked: {
				Subject: "Cita agendada {{date}} {{time}}",
				Body:    "Hola {{patient_name}}, tu cita ({{channel}}) con {{professional}} quedó agendada para el {{date}} a las {{time}}.",
			},
			KindUpdated: {
				Subject: "Cita modificada {{date}} {{time}}",
				Body:    "Hola {{patient_name}}, tu cita ({{channel}}) con {{professional}} ahora es el {{date}} a las {{time}}.",
			},
			KindCancelled: {
				Subject: "Cita cancelada {{date}} {{time}}",
				Body:    "Hola {{patient_name}}, tu cita con {{professional}} del {{date}} a las {{time}} fue cancelada.",
			},
		},
	}
}

// Register adds or replaces the template for kind.
func (e *TemplateEngine) Register(kind Kind, t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[kind] = t
}

// Render replaces {{key}} placeholders with data. Unknown placeholders are
// left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

const sendTimeout = 30 * time.Second

// Dispatcher renders events and hands them to a Sender on a goroutine.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, templates *TemplateEngine, logger zerolog.Logger) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{sender: sender, templates: templates, logger: logger}
}

// Dispatch queues ev for delivery. Events without an email address and
// events dispatched after Close are dropped.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.Email == "" {
		d.logger.Debug().Str("appointment_id", ev.AppointmentID).Str("kind", string(ev.Kind)).Msg("notification skipped: no recipient")
		return
	}

	subject, body, err := d.templates.Render(ev.Kind, ev.data())
	if err != nil {
		d.logger.Warn().Err(err).Str("appointment_id", ev.AppointmentID).Msg("notification render failed")
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := d.sender.Send(ctx, ev.Email, subject, body); err != nil {
			d.logger.Warn().Err(err).
				Str("appointment_id", ev.AppointmentID).
				Str("kind", string(ev.Kind)).
				Msg("notification send failed")
			return
		}
		d.logger.Info().Str("appointment_id", ev.AppointmentID).Str("kind", string(ev.Kind)).Msg("notification sent")
	}()
}

// Close stops accepting events and waits for in-flight sends.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
