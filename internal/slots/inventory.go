// Package slots owns the per-day slot grids.
package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/rs/zerolog"
)

// Store persists day grids keyed by date and slot records keyed by
// (date, index).
type Store interface {
	// GetDay returns model.ErrDayNotFound when no grid exists.
	GetDay(ctx context.Context, date string) (*model.DaySchedule, error)
	// CreateDay inserts the grid unless one already exists for the date.
	CreateDay(ctx context.Context, day *model.DaySchedule) error
	// SetSlotEnabled toggles visibility without touching status.
	SetSlotEnabled(ctx context.Context, date string, index int, enabled bool) error
	// UpdateSlot applies a conditional transition and reports whether it won.
	UpdateSlot(ctx context.Context, u model.SlotUpdate) (bool, error)
}

// Inventory is the single owner of slot state.
type Inventory struct {
	store  Store
	rules  Rules
	loc    *time.Location
	clock  model.Clock
	logger zerolog.Logger
}

// NewInventory creates a slot inventory.
func NewInventory(store Store, rules Rules, loc *time.Location, clock model.Clock, logger zerolog.Logger) *Inventory {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = model.SystemClock{}
	}
	if rules.TooSoonBuffer <= 0 {
		rules.TooSoonBuffer = 30 * time.Minute
	}
	return &Inventory{
		store:  store,
		rules:  rules,
		loc:    loc,
		clock:  clock,
		logger: logger.With().Str("component", "slots").Logger(),
	}
}

// Location is the shop's time zone.
func (inv *Inventory) Location() *time.Location { return inv.loc }

// Now reads the inventory clock in the shop's time zone.
func (inv *Inventory) Now() time.Time { return inv.clock.Now().In(inv.loc) }

// Rules returns the default-grid rules.
func (inv *Inventory) Rules() Rules { return inv.rules }

// SlotStart resolves the wall-clock start of (date, index).
func (inv *Inventory) SlotStart(date string, index int) (time.Time, error) {
	day, err := model.ParseDate(date, inv.loc)
	if err != nil {
		return time.Time{}, err
	}
	if !model.ValidIndex(index) {
		return time.Time{}, fmt.Errorf("%w: index %d", model.ErrOutOfRange, index)
	}
	return model.SlotStart(day, index), nil
}

// GetOrCreateDay returns the stored grid or synthesizes the default one.
// Non-operating weekdays without a stored grid fail with ErrClosedDay.
func (inv *Inventory) GetOrCreateDay(ctx context.Context, date string) (*model.DaySchedule, error) {
	dayTime, err := model.ParseDate(date, inv.loc)
	if err != nil {
		return nil, err
	}

	day, err := inv.store.GetDay(ctx, date)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, model.ErrDayNotFound) {
		return nil, model.Persistence(err)
	}

	if inv.rules.IsClosed(dayTime) {
		return nil, fmt.Errorf("%w: %s is a %s", model.ErrClosedDay, date, dayTime.Weekday())
	}

	if err := inv.store.CreateDay(ctx, inv.rules.DefaultGrid(date, inv.Now())); err != nil {
		return nil, model.Persistence(err)
	}
	inv.logger.Debug().Str("date", date).Msg("default day schedule created")

	// Re-read so a concurrent creator's grid wins consistently.
	day, err = inv.store.GetDay(ctx, date)
	if err != nil {
		return nil, model.Persistence(err)
	}
	return day, nil
}

// GetDay returns an existing grid without materializing one.
func (inv *Inventory) GetDay(ctx context.Context, date string) (*model.DaySchedule, error) {
	if _, err := model.ParseDate(date, inv.loc); err != nil {
		return nil, err
	}
	day, err := inv.store.GetDay(ctx, date)
	if err != nil {
		if errors.Is(err, model.ErrDayNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrDayNotFound, date)
		}
		return nil, model.Persistence(err)
	}
	return day, nil
}

// OpenDay materializes an all-disabled grid for a date that has none.
// It reports false when a grid already existed.
func (inv *Inventory) OpenDay(ctx context.Context, date string) (*model.DaySchedule, bool, error) {
	if _, err := model.ParseDate(date, inv.loc); err != nil {
		return nil, false, err
	}

	existing, err := inv.store.GetDay(ctx, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrDayNotFound) {
		return nil, false, model.Persistence(err)
	}

	if err := inv.store.CreateDay(ctx, ClosedGrid(date, inv.Now())); err != nil {
		return nil, false, model.Persistence(err)
	}
	day, err := inv.store.GetDay(ctx, date)
	if err != nil {
		return nil, false, model.Persistence(err)
	}
	return day, true, nil
}

// Annotate returns a copy of day with isPast and isTooSoon computed
// against now. The stored grid is never modified.
func (inv *Inventory) Annotate(day *model.DaySchedule, now time.Time) *model.DaySchedule {
	return Annotate(day, now, inv.rules.TooSoonBuffer, inv.loc)
}

// Annotate is the pure temporal projection behind Inventory.Annotate.
func Annotate(day *model.DaySchedule, now time.Time, buffer time.Duration, loc *time.Location) *model.DaySchedule {
	out := day.Clone()
	if out == nil {
		return nil
	}
	dayTime, err := model.ParseDate(out.Date, loc)
	if err != nil {
		return out
	}
	soon := now.Add(buffer)
	for i := range out.Slots {
		start := model.SlotStart(dayTime, out.Slots[i].Index)
		out.Slots[i].IsPast = start.Before(now)
		out.Slots[i].IsTooSoon = !out.Slots[i].IsPast && start.Before(soon)
	}
	return out
}

// ListDay returns the annotated grid in transport form.
func (inv *Inventory) ListDay(ctx context.Context, date string) ([]model.SlotView, error) {
	day, err := inv.GetOrCreateDay(ctx, date)
	if err != nil {
		return nil, err
	}
	annotated := inv.Annotate(day, inv.Now())
	views := make([]model.SlotView, len(annotated.Slots))
	for i, s := range annotated.Slots {
		views[i] = s.View()
	}
	return views, nil
}

// SetEnabled toggles whether a slot accepts new reservations. Its status
// is left untouched.
func (inv *Inventory) SetEnabled(ctx context.Context, date string, index int, enabled bool) error {
	if !model.ValidIndex(index) {
		return fmt.Errorf("%w: index %d", model.ErrOutOfRange, index)
	}
	if _, err := inv.GetOrCreateDay(ctx, date); err != nil {
		return err
	}
	if err := inv.store.SetSlotEnabled(ctx, date, index, enabled); err != nil {
		return model.Persistence(err)
	}
	inv.logger.Info().
		Str("date", date).
		Int("index", index).
		Bool("enabled", enabled).
		Msg("slot visibility changed")
	return nil
}

// Transition applies a conditional slot update.
func (inv *Inventory) Transition(ctx context.Context, u model.SlotUpdate) (bool, error) {
	if !model.ValidIndex(u.Index) {
		return false, fmt.Errorf("%w: index %d", model.ErrOutOfRange, u.Index)
	}
	ok, err := inv.store.UpdateSlot(ctx, u)
	if err != nil {
		return false, model.Persistence(err)
	}
	return ok, nil
}
