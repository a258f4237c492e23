package agenda

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// 2026-03-02 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.Local)
}

func mondayOnly(start, end string) []OperatingHours {
	hours := make([]OperatingHours, 7)
	for i := range hours {
		hours[i] = OperatingHours{Weekday: i, Start: "09:00", End: "13:00"}
	}
	hours[0] = OperatingHours{Weekday: 0, Enabled: true, Start: start, End: end}
	return hours
}

func TestBuildWeekGrid_Slots(t *testing.T) {
	g, err := BuildWeekGrid(at(4, 15, 0), 60, mondayOnly("08:00", "17:00"), nil, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if !g.WeekStart.Equal(at(2, 0, 0)) {
		t.Errorf("expected week start Monday 2026-03-02, got %v", g.WeekStart)
	}
	if len(g.Slots) != 9 {
		t.Fatalf("expected 9 slots, got %d (%v)", len(g.Slots), g.Slots)
	}
	if g.Slots[0] != "08:00" || g.Slots[8] != "16:00" {
		t.Errorf("unexpected slot labels: %v", g.Slots)
	}
	if len(g.Days) != 7 {
		t.Fatalf("expected 7 days, got %d", len(g.Days))
	}
	for _, c := range g.Days[0].Cells {
		if c.State != CellOpen {
			t.Errorf("Monday %v: expected open, got %s", c.Start, c.State)
		}
	}
	for _, c := range g.Days[1].Cells {
		if c.State != CellClosed {
			t.Errorf("Tuesday %v: expected closed, got %s", c.Start, c.State)
		}
	}
	if !g.Days[2].Cells[3].Start.Equal(at(4, 11, 0)) {
		t.Errorf("unexpected cell start %v", g.Days[2].Cells[3].Start)
	}
}

func TestBuildWeekGrid_AppointmentBucket(t *testing.T) {
	a := &Appointment{ID: uuid.New(), StartsAt: at(2, 9, 0)}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, mondayOnly("08:00", "17:00"), []*Appointment{a}, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	cell := g.Days[0].Cells[1]
	if cell.State != CellOccupiedAppointment || len(cell.Appointments) != 1 || cell.Appointments[0] != a {
		t.Errorf("expected appointment in Monday bucket 1, got %+v", cell)
	}
	if g.Days[0].Cells[0].State != CellOpen || g.Days[0].Cells[2].State != CellOpen {
		t.Error("neighbouring cells should stay open")
	}
}

func TestBuildWeekGrid_AppointmentInsideSlot(t *testing.T) {
	a := &Appointment{ID: uuid.New(), StartsAt: at(2, 9, 40)}
	g, err := BuildWeekGrid(at(2, 0, 0), 30, mondayOnly("08:00", "17:00"), []*Appointment{a}, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if g.Days[0].Cells[3].State != CellOccupiedAppointment {
		t.Errorf("expected 09:40 to land in the 09:30 bucket, got %s", g.Days[0].Cells[3].State)
	}
}

func TestBuildWeekGrid_OutOfRangeExcluded(t *testing.T) {
	appts := []*Appointment{
		{ID: uuid.New(), StartsAt: at(2, 7, 0)},  // before opening
		{ID: uuid.New(), StartsAt: at(2, 17, 0)}, // at grid end
		{ID: uuid.New(), StartsAt: at(9, 9, 0)},  // next week
		{ID: uuid.New(), StartsAt: at(1, 9, 0)},  // previous Sunday
	}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, mondayOnly("08:00", "17:00"), appts, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	for _, d := range g.Days {
		for _, c := range d.Cells {
			if len(c.Appointments) > 0 {
				t.Errorf("unexpected appointment at %v", c.Start)
			}
		}
	}
}

func TestBuildWeekGrid_AfterCloseExcludedWithPartialLastSlot(t *testing.T) {
	appts := []*Appointment{
		{ID: uuid.New(), StartsAt: at(2, 16, 55)}, // after the 16:50 close
		{ID: uuid.New(), StartsAt: at(2, 16, 20)}, // inside the last slot
	}
	blocks := []*Block{{ID: uuid.New(), StartsAt: at(2, 16, 50), EndsAt: at(2, 17, 30)}}
	g, err := BuildWeekGrid(at(2, 0, 0), 45, mondayOnly("08:00", "16:50"), appts, blocks)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	last := len(g.Slots) - 1
	if g.Slots[last] != "16:15" {
		t.Fatalf("expected last slot 16:15, got %s", g.Slots[last])
	}
	cell := g.Days[0].Cells[last]
	if len(cell.Appointments) != 1 || cell.Appointments[0] != appts[1] {
		t.Errorf("expected only the 16:20 appointment in the last slot, got %d", len(cell.Appointments))
	}
	if len(cell.Blocks) != 0 {
		t.Errorf("block starting at close should be left out, got %d", len(cell.Blocks))
	}
}

func TestBuildWeekGrid_BlockBuckets(t *testing.T) {
	tests := []struct {
		slot    int
		buckets []int
	}{
		{slot: 30, buckets: []int{4}},
		{slot: 15, buckets: []int{8, 9}},
		{slot: 60, buckets: []int{2}},
	}
	for _, tt := range tests {
		b := &Block{ID: uuid.New(), StartsAt: at(2, 10, 0), EndsAt: at(2, 10, 30)}
		g, err := BuildWeekGrid(at(2, 0, 0), tt.slot, mondayOnly("08:00", "17:00"), nil, []*Block{b})
		if err != nil {
			t.Fatalf("slot %d: %v", tt.slot, err)
		}
		var got []int
		for i, c := range g.Days[0].Cells {
			if len(c.Blocks) > 0 {
				if len(c.Blocks) != 1 {
					t.Errorf("slot %d bucket %d: block registered %d times", tt.slot, i, len(c.Blocks))
				}
				if c.State != CellOccupiedBlock {
					t.Errorf("slot %d bucket %d: expected occupied_block, got %s", tt.slot, i, c.State)
				}
				got = append(got, i)
			}
		}
		if len(got) != len(tt.buckets) {
			t.Fatalf("slot %d: expected buckets %v, got %v", tt.slot, tt.buckets, got)
		}
		for i := range got {
			if got[i] != tt.buckets[i] {
				t.Errorf("slot %d: expected buckets %v, got %v", tt.slot, tt.buckets, got)
			}
		}
	}
}

func TestBuildWeekGrid_BlockFromPreviousWeek(t *testing.T) {
	b := &Block{ID: uuid.New(), StartsAt: at(1, 8, 0), EndsAt: at(2, 10, 0)}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, mondayOnly("08:00", "17:00"), nil, []*Block{b})
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	states := []CellState{CellOccupiedBlock, CellOccupiedBlock, CellOpen}
	for i, want := range states {
		if got := g.Days[0].Cells[i].State; got != want {
			t.Errorf("bucket %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestBuildWeekGrid_AppointmentWinsOverBlockAndClosed(t *testing.T) {
	appts := []*Appointment{
		{ID: uuid.New(), StartsAt: at(3, 9, 0)}, // Tuesday is disabled
		{ID: uuid.New(), StartsAt: at(2, 10, 0)},
	}
	blocks := []*Block{{ID: uuid.New(), StartsAt: at(2, 10, 0), EndsAt: at(2, 11, 0)}}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, mondayOnly("08:00", "17:00"), appts, blocks)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if s := g.Days[1].Cells[1].State; s != CellOccupiedAppointment {
		t.Errorf("disabled day with appointment: expected occupied_appointment, got %s", s)
	}
	if s := g.Days[0].Cells[2].State; s != CellOccupiedAppointment {
		t.Errorf("blocked cell with appointment: expected occupied_appointment, got %s", s)
	}
}

func TestBuildWeekGrid_PerDayHours(t *testing.T) {
	hours := mondayOnly("08:00", "12:00")
	hours[2] = OperatingHours{Weekday: 2, Enabled: true, Start: "14:00", End: "18:00"}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, hours, nil, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if g.StartMinute != 8*60 || g.EndMinute != 18*60 || len(g.Slots) != 10 {
		t.Fatalf("unexpected bounds %d-%d with %d slots", g.StartMinute, g.EndMinute, len(g.Slots))
	}
	if s := g.Days[0].Cells[6].State; s != CellClosed {
		t.Errorf("Monday 14:00: expected closed, got %s", s)
	}
	if s := g.Days[2].Cells[1].State; s != CellClosed {
		t.Errorf("Wednesday 09:00: expected closed, got %s", s)
	}
	if s := g.Days[2].Cells[6].State; s != CellOpen {
		t.Errorf("Wednesday 14:00: expected open, got %s", s)
	}
}

func TestBuildWeekGrid_NoEnabledDays(t *testing.T) {
	hours := mondayOnly("08:00", "17:00")
	hours[0].Enabled = false
	a := &Appointment{ID: uuid.New(), StartsAt: at(2, 9, 0)}
	g, err := BuildWeekGrid(at(2, 0, 0), 30, hours, []*Appointment{a}, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	if len(g.Slots) != 0 {
		t.Errorf("expected no slots, got %v", g.Slots)
	}
	if len(g.Days) != 7 || len(g.Days[0].Cells) != 0 {
		t.Errorf("expected 7 empty days, got %+v", g.Days)
	}
	if len(g.OpenSlots()) != 0 {
		t.Error("expected no open slots")
	}
}

func TestBuildWeekGrid_InvalidSlot(t *testing.T) {
	for _, slot := range []int{0, 25, 90, -15} {
		if _, err := BuildWeekGrid(at(2, 0, 0), slot, mondayOnly("08:00", "17:00"), nil, nil); !errors.Is(err, ErrInvalidSlotSize) {
			t.Errorf("slot %d: expected ErrInvalidSlotSize, got %v", slot, err)
		}
	}
}

func TestBuildWeekGrid_BadHours(t *testing.T) {
	hours := mondayOnly("8am", "17:00")
	if _, err := BuildWeekGrid(at(2, 0, 0), 60, hours, nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestWeekGrid_OpenSlots(t *testing.T) {
	a := &Appointment{ID: uuid.New(), StartsAt: at(2, 9, 0)}
	g, err := BuildWeekGrid(at(2, 0, 0), 60, mondayOnly("08:00", "11:00"), []*Appointment{a}, nil)
	if err != nil {
		t.Fatalf("BuildWeekGrid: %v", err)
	}
	open := g.OpenSlots()
	if len(open) != 2 || !open[0].Equal(at(2, 8, 0)) || !open[1].Equal(at(2, 10, 0)) {
		t.Errorf("unexpected open slots %v", open)
	}
}

func TestMondayOf(t *testing.T) {
	for d := 2; d <= 8; d++ {
		if got := MondayOf(at(d, 13, 45)); !got.Equal(at(2, 0, 0)) {
			t.Errorf("2026-03-%02d: expected 2026-03-02, got %v", d, got)
		}
	}
	if WeekdayIndex(at(8, 0, 0)) != 6 {
		t.Error("Sunday should be weekday 6")
	}
}

func TestParseWhen(t *testing.T) {
	for _, s := range []string{"2026-03-02 09:30", "2026-03-02T09:30"} {
		got, err := ParseWhen(s)
		if err != nil || !got.Equal(at(2, 9, 30)) {
			t.Errorf("%q: got %v, %v", s, got, err)
		}
	}
	if _, err := ParseWhen("mañana"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
