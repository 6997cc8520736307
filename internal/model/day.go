package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar key format.
const DateLayout = "2006-01-02"

// ParseDate parses a calendar key in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate renders t as a calendar key in its own location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ValidIndex reports whether index addresses a slot of the fixed grid.
func ValidIndex(index int) bool {
	return index >= 0 && index < SlotsPerDay
}

// SlotStart returns the wall-clock start of slot index on day.
func SlotStart(day time.Time, index int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), index/2, (index%2)*30, 0, 0, day.Location())
}

// IndexTime renders the start of slot index as "HH:MM".
func IndexTime(index int) string {
	return fmt.Sprintf("%02d:%02d", index/2, (index%2)*30)
}

// ParseIndexTime converts "HH:MM" on a half-hour boundary to a slot index.
func ParseIndexTime(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time format: %s", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute: %w", err)
	}
	if hour < 0 || hour > 23 || (minute != 0 && minute != 30) {
		return 0, fmt.Errorf("time %s is not on a half-hour boundary", s)
	}
	return hour*2 + minute/30, nil
}
