package shifts

import (
	"fmt"
	"time"
)

// Kind identifies the window type.
type Kind string

const (
	KindShift Kind = "shift"
	KindDay   Kind = "day"
)

// Fixed shift start hours in facility local time.
const (
	DayShiftHour       = 7
	AfternoonShiftHour = 15
	NightShiftHour     = 23
)

const (
	DayShiftName       = "Day Shift"
	AfternoonShiftName = "Afternoon Shift"
	NightShiftName     = "Night Shift"
)

// Window is a half-open time window [Start, End).
type Window struct {
	Kind  Kind      `json:"kind"`
	Name  string    `json:"name,omitempty"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window. Start is
// inclusive, End exclusive, so a sample landing exactly on a boundary
// belongs to the window it starts.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Day returns the calendar day the window belongs to. A night shift
// spans midnight and belongs to the day it starts.
func (w Window) Day() time.Time {
	y, m, d := w.Start.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, w.Start.Location())
}

// Label formats the window as "07:00-15:00" for messages and reports.
func (w Window) Label() string {
	return fmt.Sprintf("%s-%s", w.Start.Format("15:04"), w.End.Format("15:04"))
}

// ShiftAt returns the shift window enclosing t in the given location.
func ShiftAt(t time.Time, loc *time.Location) Window {
	local := t.In(loc)
	y, m, d := local.Date()
	hour := local.Hour()

	switch {
	case hour >= DayShiftHour && hour < AfternoonShiftHour:
		return Window{
			Kind:  KindShift,
			Name:  DayShiftName,
			Start: time.Date(y, m, d, DayShiftHour, 0, 0, 0, loc),
			End:   time.Date(y, m, d, AfternoonShiftHour, 0, 0, 0, loc),
		}
	case hour >= AfternoonShiftHour && hour < NightShiftHour:
		return Window{
			Kind:  KindShift,
			Name:  AfternoonShiftName,
			Start: time.Date(y, m, d, AfternoonShiftHour, 0, 0, 0, loc),
			End:   time.Date(y, m, d, NightShiftHour, 0, 0, 0, loc),
		}
	case hour >= NightShiftHour:
		return Window{
			Kind:  KindShift,
			Name:  NightShiftName,
			Start: time.Date(y, m, d, NightShiftHour, 0, 0, 0, loc),
			End:   time.Date(y, m, d+1, DayShiftHour, 0, 0, 0, loc),
		}
	default:
		// Before 07:00 the night shift that started yesterday is still running.
		return Window{
			Kind:  KindShift,
			Name:  NightShiftName,
			Start: time.Date(y, m, d-1, NightShiftHour, 0, 0, 0, loc),
			End:   time.Date(y, m, d, DayShiftHour, 0, 0, 0, loc),
		}
	}
}

// DayAt returns the calendar day window [00:00, 24:00) enclosing t.
func DayAt(t time.Time, loc *time.Location) Window {
	local := t.In(loc)
	y, m, d := local.Date()
	return Window{
		Kind:  KindDay,
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc),
	}
}

// PreviousShift returns the shift immediately before the one enclosing t.
func PreviousShift(t time.Time, loc *time.Location) Window {
	current := ShiftAt(t, loc)
	return ShiftAt(current.Start.Add(-time.Second), loc)
}

// ShiftsForDay returns the three shifts whose start falls on the
// calendar day containing t, in start order. The night shift runs past
// midnight but is listed under the day it starts.
func ShiftsForDay(t time.Time, loc *time.Location) []Window {
	local := t.In(loc)
	y, m, d := local.Date()
	anchor := func(hour int) time.Time {
		return time.Date(y, m, d, hour, 30, 0, 0, loc)
	}
	return []Window{
		ShiftAt(anchor(DayShiftHour), loc),
		ShiftAt(anchor(AfternoonShiftHour), loc),
		ShiftAt(anchor(NightShiftHour), loc),
	}
}
