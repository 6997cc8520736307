package model

import (
	"fmt"
	"time"
)

const (
	// SlotsPerDay is the fixed length of every day grid.
	SlotsPerDay = 48
	// SlotDuration is the length of one slot.
	SlotDuration = 30 * time.Minute
)

// SlotStatus is the reservation axis of a slot. It is independent of Enabled.
type SlotStatus string

const (
	StatusFree     SlotStatus = "free"
	StatusBlocked  SlotStatus = "blocked"
	StatusReserved SlotStatus = "reserved"
)

// Valid reports whether s is a known status.
func (s SlotStatus) Valid() bool {
	switch s {
	case StatusFree, StatusBlocked, StatusReserved:
		return true
	}
	return false
}

// SlotState is the persisted, mutable part of a slot.
type SlotState struct {
	Status      SlotStatus
	OwnerID     string
	Service     string
	BookedAt    time.Time
	CanceledAt  time.Time
	BlockReason string
}

// TimeSlot is one half-hour cell of a day.
type TimeSlot struct {
	Index   int
	Enabled bool
	SlotState

	// Derived at read time, never persisted.
	IsPast    bool
	IsTooSoon bool
}

// Time returns the slot start as "HH:MM".
func (s TimeSlot) Time() string {
	return IndexTime(s.Index)
}

// DaySchedule owns the ordered slot grid of one calendar date.
type DaySchedule struct {
	Date      string
	Slots     []TimeSlot
	CreatedAt time.Time
}

// Slot returns a copy of the slot at index.
func (d *DaySchedule) Slot(index int) (TimeSlot, error) {
	if index < 0 || index >= len(d.Slots) {
		return TimeSlot{}, fmt.Errorf("%w: index %d on %s", ErrOutOfRange, index, d.Date)
	}
	return d.Slots[index], nil
}

// Clone returns a deep copy so projections never alias stored grids.
func (d *DaySchedule) Clone() *DaySchedule {
	if d == nil {
		return nil
	}
	out := &DaySchedule{Date: d.Date, CreatedAt: d.CreatedAt, Slots: make([]TimeSlot, len(d.Slots))}
	copy(out.Slots, d.Slots)
	return out
}

// SlotUpdate is a conditional transition of a single (date, index) record.
// It applies only if the stored status still equals ExpectStatus, the stored
// owner equals ExpectOwner when that is set, and the slot is enabled when
// RequireEnabled is set.
type SlotUpdate struct {
	Date           string
	Index          int
	ExpectStatus   SlotStatus
	ExpectOwner    string
	RequireEnabled bool
	Next           SlotState
}

// Reservation describes a slot held by a client.
type Reservation struct {
	Date     string    `json:"date"`
	Index    int       `json:"index"`
	Time     string    `json:"time"`
	OwnerID  string    `json:"ownerId"`
	Service  string    `json:"service"`
	StartsAt time.Time `json:"startsAt"`
	BookedAt time.Time `json:"bookedAt"`
}

// SlotView is the transport representation of a slot.
type SlotView struct {
	Index       int        `json:"index"`
	Time        string     `json:"time"`
	Enabled     bool       `json:"enabled"`
	Status      SlotStatus `json:"status"`
	OwnerID     *string    `json:"ownerId"`
	Service     *string    `json:"service"`
	BookedAt    *time.Time `json:"bookedAt"`
	CanceledAt  *time.Time `json:"canceledAt"`
	BlockReason *string    `json:"blockReason"`
	IsPast      bool       `json:"isPast"`
	IsTooSoon   bool       `json:"isTooSoon"`
}

// View converts a slot to its transport form.
func (s TimeSlot) View() SlotView {
	return SlotView{
		Index:       s.Index,
		Time:        s.Time(),
		Enabled:     s.Enabled,
		Status:      s.Status,
		OwnerID:     optString(s.OwnerID),
		Service:     optString(s.Service),
		BookedAt:    optTime(s.BookedAt),
		CanceledAt:  optTime(s.CanceledAt),
		BlockReason: optString(s.BlockReason),
		IsPast:      s.IsPast,
		IsTooSoon:   s.IsTooSoon,
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
