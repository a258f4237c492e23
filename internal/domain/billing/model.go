// Package billing invoices corporate-agreement (convenio) appointments to
// the company behind them.
package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("invoice not found")
	ErrValidation       = errors.New("validation failed")
	ErrNothingToInvoice = errors.New("no uninvoiced appointments in the period")
)

// Invoice groups the convenio appointments of one company over
// [PeriodStart, PeriodEnd).
type Invoice struct {
	ID          uuid.UUID `json:"id"`
	Number      string    `json:"number"`
	Company     string    `json:"company"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Total       int64     `json:"total"`
	IssuedOn    time.Time `json:"issued_on"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"created_at"`
	Items       []Item    `json:"items,omitempty"`
}

// Item is one invoiced appointment.
type Item struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PatientDocument string    `json:"patient_document"`
	PatientName     string    `json:"patient_name"`
	StartsAt        time.Time `json:"starts_at"`
	ServiceName     string    `json:"service_name"`
	Price           int64     `json:"price"`
}

func sumItems(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.Price
	}
	return total
}
