package agenda

import (
	"fmt"
	"time"
)

// CellState classifies one (day, slot) cell of the weekly grid.
type CellState string

const (
	CellClosed              CellState = "closed"
	CellOpen                CellState = "open"
	CellOccupiedAppointment CellState = "occupied_appointment"
	CellOccupiedBlock       CellState = "occupied_block"
)

type Cell struct {
	Start        time.Time      `json:"start"`
	State        CellState      `json:"state"`
	Appointments []*Appointment `json:"appointments,omitempty"`
	Blocks       []*Block       `json:"blocks,omitempty"`
}

// Day is one column of the grid. Cells is parallel to WeekGrid.Slots.
type Day struct {
	Date    time.Time `json:"date"`
	Weekday int       `json:"weekday"`
	Enabled bool      `json:"enabled"`
	Cells   []Cell    `json:"cells"`
}

// WeekGrid is the bucketed view of one Monday-to-Sunday week. StartMinute
// and EndMinute bound the slots in minutes since midnight.
type WeekGrid struct {
	WeekStart   time.Time `json:"week_start"`
	SlotMinutes int       `json:"slot_minutes"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	Slots       []string  `json:"slots"`
	Days        []Day     `json:"days"`
}

type dayWindow struct {
	enabled    bool
	start, end int
}

// BuildWeekGrid buckets appointments and blocks into the week starting at
// the Monday of weekStart. Slots run from the earliest enabled opening to
// the latest enabled closing of the week. Entries falling outside the week
// or outside [earliest opening, latest closing) are left out.
func BuildWeekGrid(weekStart time.Time, slotMinutes int, hours []OperatingHours, appointments []*Appointment, blocks []*Block) (*WeekGrid, error) {
	if !ValidSlotMinutes(slotMinutes) {
		return nil, fmt.Errorf("%w: %d minutes (allowed %v)", ErrInvalidSlotSize, slotMinutes, AllowedSlotMinutes)
	}

	monday := MondayOf(weekStart)
	g := &WeekGrid{WeekStart: monday, SlotMinutes: slotMinutes, Slots: []string{}}

	var windows [7]dayWindow
	first := true
	for _, h := range hours {
		if h.Weekday < 0 || h.Weekday > 6 {
			continue
		}
		start, end, err := h.Minutes()
		if err != nil {
			return nil, fmt.Errorf("weekday %d: %w", h.Weekday, err)
		}
		windows[h.Weekday] = dayWindow{enabled: h.Enabled, start: start, end: end}
		if !h.Enabled {
			continue
		}
		if first || start < g.StartMinute {
			g.StartMinute = start
		}
		if first || end > g.EndMinute {
			g.EndMinute = end
		}
		first = false
	}

	for m := g.StartMinute; m < g.EndMinute; m += slotMinutes {
		g.Slots = append(g.Slots, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}

	g.Days = make([]Day, 7)
	for i := range g.Days {
		date := monday.AddDate(0, 0, i)
		cells := make([]Cell, len(g.Slots))
		for j := range cells {
			m := g.StartMinute + j*slotMinutes
			cells[j].Start = time.Date(date.Year(), date.Month(), date.Day(), m/60, m%60, 0, 0, date.Location())
		}
		g.Days[i] = Day{Date: date, Weekday: i, Enabled: windows[i].enabled, Cells: cells}
	}

	for _, a := range appointments {
		day, bucket, ok := g.locate(a.StartsAt)
		if !ok {
			continue
		}
		cell := &g.Days[day].Cells[bucket]
		cell.Appointments = append(cell.Appointments, a)
	}

	weekEnd := monday.AddDate(0, 0, 7)
	step := time.Duration(slotMinutes) * time.Minute
	for _, b := range blocks {
		t := b.StartsAt
		if t.Before(monday) {
			t = t.Add(monday.Sub(t) / step * step)
		}
		for ; t.Before(b.EndsAt) && t.Before(weekEnd); t = t.Add(step) {
			day, bucket, ok := g.locate(t)
			if !ok {
				continue
			}
			cell := &g.Days[day].Cells[bucket]
			if n := len(cell.Blocks); n > 0 && cell.Blocks[n-1] == b {
				continue
			}
			cell.Blocks = append(cell.Blocks, b)
		}
	}

	for i := range g.Days {
		w := windows[i]
		for j := range g.Days[i].Cells {
			cell := &g.Days[i].Cells[j]
			m := g.StartMinute + j*slotMinutes
			switch {
			case len(cell.Appointments) > 0:
				cell.State = CellOccupiedAppointment
			case len(cell.Blocks) > 0:
				cell.State = CellOccupiedBlock
			case !w.enabled || m < w.start || m >= w.end:
				cell.State = CellClosed
			default:
				cell.State = CellOpen
			}
		}
	}
	return g, nil
}

// locate maps t to its day column and slot bucket.
func (g *WeekGrid) locate(t time.Time) (day, bucket int, ok bool) {
	t = t.In(g.WeekStart.Location())
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if date.Before(g.WeekStart) {
		return 0, 0, false
	}
	day = daysBetween(g.WeekStart, date)
	if day > 6 {
		return 0, 0, false
	}
	minutes := t.Hour()*60 + t.Minute()
	if minutes < g.StartMinute || minutes >= g.EndMinute {
		return 0, 0, false
	}
	bucket = (minutes - g.StartMinute) / g.SlotMinutes
	if bucket >= len(g.Slots) {
		return 0, 0, false
	}
	return day, bucket, true
}

// daysBetween counts calendar days from a to b, both local midnights.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// OpenSlots lists the start of every open cell in day-then-slot order.
func (g *WeekGrid) OpenSlots() []time.Time {
	var out []time.Time
	for _, d := range g.Days {
		for _, c := range d.Cells {
			if c.State == CellOpen {
				out = append(out, c.Start)
			}
		}
	}
	return out
}
