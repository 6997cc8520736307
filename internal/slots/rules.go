package slots

import (
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// Rules decides the default grid of a day.
type Rules struct {
	// OpenIndex and LastIndex bound the enabled slots, both inclusive.
	OpenIndex int
	LastIndex int
	// LunchStart and LunchEnd bound the lunch slots, both inclusive.
	// Negative values disable the lunch window.
	LunchStart int
	LunchEnd   int
	// ClosedWeekdays never get a default grid.
	ClosedWeekdays []time.Weekday
	// TooSoonBuffer drives the isTooSoon projection.
	TooSoonBuffer time.Duration
}

// DefaultRules opens 10:00 through 19:30 with lunch at 12:00 and 12:30,
// closed on Sundays.
func DefaultRules() Rules {
	return Rules{
		OpenIndex:      20,
		LastIndex:      39,
		LunchStart:     24,
		LunchEnd:       25,
		ClosedWeekdays: []time.Weekday{time.Sunday},
		TooSoonBuffer:  30 * time.Minute,
	}
}

// Validate checks index bounds.
func (r Rules) Validate() error {
	if !model.ValidIndex(r.OpenIndex) || !model.ValidIndex(r.LastIndex) {
		return fmt.Errorf("business hours out of range: %d..%d", r.OpenIndex, r.LastIndex)
	}
	if r.OpenIndex > r.LastIndex {
		return fmt.Errorf("opening slot %d is after last slot %d", r.OpenIndex, r.LastIndex)
	}
	if r.LunchStart >= 0 && r.LunchStart > r.LunchEnd {
		return fmt.Errorf("lunch start %d is after lunch end %d", r.LunchStart, r.LunchEnd)
	}
	return nil
}

// IsClosed reports whether day falls on a non-operating weekday.
func (r Rules) IsClosed(day time.Time) bool {
	wd := day.Weekday()
	for _, closed := range r.ClosedWeekdays {
		if closed == wd {
			return true
		}
	}
	return false
}

// DefaultEnabled reports whether slot index is open on an operating day.
func (r Rules) DefaultEnabled(index int) bool {
	if index < r.OpenIndex || index > r.LastIndex {
		return false
	}
	if r.LunchStart >= 0 && index >= r.LunchStart && index <= r.LunchEnd {
		return false
	}
	return true
}

// DefaultGrid synthesizes the 48-slot grid of an operating day.
func (r Rules) DefaultGrid(date string, createdAt time.Time) *model.DaySchedule {
	day := &model.DaySchedule{
		Date:      date,
		CreatedAt: createdAt,
		Slots:     make([]model.TimeSlot, model.SlotsPerDay),
	}
	for i := range day.Slots {
		day.Slots[i] = model.TimeSlot{
			Index:     i,
			Enabled:   r.DefaultEnabled(i),
			SlotState: model.SlotState{Status: model.StatusFree},
		}
	}
	return day
}

// ClosedGrid synthesizes an all-disabled grid. Admins use it to open a
// non-operating weekday slot by slot.
func ClosedGrid(date string, createdAt time.Time) *model.DaySchedule {
	day := &model.DaySchedule{
		Date:      date,
		CreatedAt: createdAt,
		Slots:     make([]model.TimeSlot, model.SlotsPerDay),
	}
	for i := range day.Slots {
		day.Slots[i] = model.TimeSlot{Index: i, SlotState: model.SlotState{Status: model.StatusFree}}
	}
	return day
}
