// Package catalog holds the priceable services offered by the practice.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("service not found")
	ErrValidation = errors.New("validation failed")
)

// Modality is how a session is billed.
type Modality string

const (
	ModalityParticular Modality = "particular"
	ModalityConvenio   Modality = "convenio"
)

func (m Modality) Valid() bool {
	return m == ModalityParticular || m == ModalityConvenio
}

// Service is a billable offering. Company names the agreement for convenio
// services and is empty otherwise.
type Service struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Modality  Modality  `json:"modality"`
	Company   string    `json:"company"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Modality Modality
	Active   *bool
	Company  string
}
