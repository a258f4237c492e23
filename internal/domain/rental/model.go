// Package rental tracks prepaid office-rental packages and the ledger of
// in-person appointments that consume their credits.
package rental

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrNoCredits    = errors.New("no rental package with remaining credits")
	ErrPackageInUse = errors.New("package has consumption records")
)

// Package is a batch of prepaid office sessions.
type Package struct {
	ID          uuid.UUID `json:"id"`
	PurchasedOn time.Time `json:"purchased_on"`
	Credits     int       `json:"credits"`
	Used        int       `json:"used"`
	TotalCost   int64     `json:"total_cost"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *Package) Remaining() int {
	return p.Credits - p.Used
}

// CostPerCredit returns the cost of one session of this package.
func (p *Package) CostPerCredit() float64 {
	if p.Credits == 0 {
		return 0
	}
	return float64(p.TotalCost) / float64(p.Credits)
}

// Consumption links one appointment to the package that paid its office time.
type Consumption struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PackageID     uuid.UUID `json:"package_id"`
	ConsumedOn    time.Time `json:"consumed_on"`
	CreatedAt     time.Time `json:"created_at"`
}

type PackageSummary struct {
	ID            uuid.UUID `json:"id"`
	PurchasedOn   time.Time `json:"purchased_on"`
	Credits       int       `json:"credits"`
	Used          int       `json:"used"`
	Remaining     int       `json:"remaining"`
	TotalCost     int64     `json:"total_cost"`
	CostPerCredit float64   `json:"cost_per_credit"`
}

// Summary aggregates every package.
type Summary struct {
	Packages       []PackageSummary `json:"packages"`
	TotalCredits   int              `json:"total_credits"`
	TotalUsed      int              `json:"total_used"`
	TotalRemaining int              `json:"total_remaining"`
	TotalCost      int64            `json:"total_cost"`
	CostPerCredit  float64          `json:"cost_per_credit"`
}

// Summarize folds packages into a Summary. The aggregate cost per credit is
// weighted by credits.
func Summarize(pkgs []*Package) *Summary {
	s := &Summary{Packages: make([]PackageSummary, 0, len(pkgs))}
	for _, p := range pkgs {
		s.Packages = append(s.Packages, PackageSummary{
			ID:            p.ID,
			PurchasedOn:   p.PurchasedOn,
			Credits:       p.Credits,
			Used:          p.Used,
			Remaining:     p.Remaining(),
			TotalCost:     p.TotalCost,
			CostPerCredit: p.CostPerCredit(),
		})
		s.TotalCredits += p.Credits
		s.TotalUsed += p.Used
		s.TotalRemaining += p.Remaining()
		s.TotalCost += p.TotalCost
	}
	if s.TotalCredits > 0 {
		s.CostPerCredit = float64(s.TotalCost) / float64(s.TotalCredits)
	}
	return s
}
