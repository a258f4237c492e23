package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/psicoagenda/agenda/internal/domain/rental"
	"github.com/psicoagenda/agenda/internal/platform/db"
)

// MonthTotals aggregates one calendar month ("YYYY-MM").
type MonthTotals struct {
	Month         string           `json:"month"`
	Appointments  int              `json:"appointments"`
	Income        int64            `json:"income"`
	PaidIncome    int64            `json:"paid_income"`
	PendingIncome int64            `json:"pending_income"`
	ByModality    map[string]int64 `json:"income_by_modality"`
	PackageCost   int64            `json:"package_cost"`
	Net           int64            `json:"net"`
}

// FinanceReport covers [From, To). Net is paid income minus the cost of
// rental packages purchased in the period.
type FinanceReport struct {
	From          string           `json:"from"`
	To            string           `json:"to"`
	Months        []*MonthTotals   `json:"months"`
	Appointments  int              `json:"appointments"`
	Income        int64            `json:"income"`
	PaidIncome    int64            `json:"paid_income"`
	PendingIncome int64            `json:"pending_income"`
	ByModality    map[string]int64 `json:"income_by_modality"`
	PackageCost   int64            `json:"package_cost"`
	Net           int64            `json:"net"`
	Packages      *rental.Summary  `json:"packages,omitempty"`
}

// Finance aggregates appointment income and package costs per month.
func (r *Reporter) Finance(ctx context.Context, from, to time.Time) (*FinanceReport, error) {
	report := &FinanceReport{
		From:       db.FormatDate(from),
		To:         db.FormatDate(to),
		Months:     []*MonthTotals{},
		ByModality: map[string]int64{},
	}
	months := map[string]*MonthTotals{}
	if err := r.addIncome(ctx, from, to, months); err != nil {
		return nil, fmt.Errorf("appointment income: %w", err)
	}
	if err := r.addPackageCost(ctx, from, to, months); err != nil {
		return nil, fmt.Errorf("package cost: %w", err)
	}

	for _, m := range months {
		m.Net = m.PaidIncome - m.PackageCost
		report.Months = append(report.Months, m)
		report.Appointments += m.Appointments
		report.Income += m.Income
		report.PaidIncome += m.PaidIncome
		report.PendingIncome += m.PendingIncome
		report.PackageCost += m.PackageCost
		for k, v := range m.ByModality {
			report.ByModality[k] += v
		}
	}
	sort.Slice(report.Months, func(i, j int) bool { return report.Months[i].Month < report.Months[j].Month })
	report.Net = report.PaidIncome - report.PackageCost

	if r.packages != nil {
		s, err := r.packages.Summary(ctx)
		if err != nil {
			return nil, fmt.Errorf("package summary: %w", err)
		}
		report.Packages = s
	}
	return report, nil
}

func monthOf(key string, months map[string]*MonthTotals) *MonthTotals {
	m, ok := months[key]
	if !ok {
		m = &MonthTotals{Month: key, ByModality: map[string]int64{}}
		months[key] = m
	}
	return m
}

func (r *Reporter) addIncome(ctx context.Context, from, to time.Time, months map[string]*MonthTotals) error {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT SUBSTR(starts_at, 1, 7) AS month, modality, paid, COUNT(*), COALESCE(SUM(price), 0)
		FROM appointments
		WHERE starts_at >= ? AND starts_at < ?
		GROUP BY SUBSTR(starts_at, 1, 7), modality, paid`,
		db.FormatTimestamp(from), db.FormatTimestamp(to))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, modality string
		var paid bool
		var count int
		var income int64
		if err := rows.Scan(&key, &modality, &paid, &count, &income); err != nil {
			return err
		}
		m := monthOf(key, months)
		m.Appointments += count
		m.Income += income
		m.ByModality[modality] += income
		if paid {
			m.PaidIncome += income
		} else {
			m.PendingIncome += income
		}
	}
	return rows.Err()
}

func (r *Reporter) addPackageCost(ctx context.Context, from, to time.Time, months map[string]*MonthTotals) error {
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT SUBSTR(purchased_on, 1, 7) AS month, COALESCE(SUM(total_cost), 0)
		FROM rental_packages
		WHERE purchased_on >= ? AND purchased_on < ?
		GROUP BY SUBSTR(purchased_on, 1, 7)`,
		db.FormatDate(from), db.FormatDate(to))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var cost int64
		if err := rows.Scan(&key, &cost); err != nil {
			return err
		}
		monthOf(key, months).PackageCost += cost
	}
	return rows.Err()
}
