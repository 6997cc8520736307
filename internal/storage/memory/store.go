// Package memory is a process-local store with the same conditional-update
// semantics as the sqlite store. Every mutation runs under one mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// Store keeps day grids, policy state and the audit log in memory.
type Store struct {
	mu     sync.Mutex
	loc    *time.Location
	days   map[string]*model.DaySchedule
	policy map[string]model.UserPolicyState

	audit   []model.AuditLogEntry
	summary model.AuditSummary
}

// NewStore creates an empty store. Slot start times are resolved in loc.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:    loc,
		days:   make(map[string]*model.DaySchedule),
		policy: make(map[string]model.UserPolicyState),
	}
}

// Close is a no-op so the store satisfies the same lifecycle as sqlite.
func (s *Store) Close() error { return nil }

// PingContext always succeeds.
func (s *Store) PingContext(context.Context) error { return nil }

// GetDay implements slots.Store.
func (s *Store) GetDay(_ context.Context, date string) (*model.DaySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.days[date]
	if !ok {
		return nil, model.ErrDayNotFound
	}
	return day.Clone(), nil
}

// CreateDay implements slots.Store.
func (s *Store) CreateDay(_ context.Context, day *model.DaySchedule) error {
	if day == nil || len(day.Slots) != model.SlotsPerDay {
		return fmt.Errorf("day grid must have %d slots", model.SlotsPerDay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.days[day.Date]; ok {
		return nil
	}
	s.days[day.Date] = day.Clone()
	return nil
}

// SetSlotEnabled implements slots.Store.
func (s *Store) SetSlotEnabled(_ context.Context, date string, index int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.days[date]
	if !ok {
		return model.ErrDayNotFound
	}
	if index < 0 || index >= len(day.Slots) {
		return model.ErrOutOfRange
	}
	day.Slots[index].Enabled = enabled
	return nil
}

// UpdateSlot implements slots.Store.
func (s *Store) UpdateSlot(_ context.Context, u model.SlotUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.days[u.Date]
	if !ok {
		return false, nil
	}
	if u.Index < 0 || u.Index >= len(day.Slots) {
		return false, nil
	}

	slot := &day.Slots[u.Index]
	if slot.Status != u.ExpectStatus {
		return false, nil
	}
	if u.ExpectOwner != "" && slot.OwnerID != u.ExpectOwner {
		return false, nil
	}
	if u.RequireEnabled && !slot.Enabled {
		return false, nil
	}

	slot.SlotState = u.Next
	return true, nil
}

// CountActiveReservations implements policy.ReservationCounter.
func (s *Store) CountActiveReservations(ctx context.Context, userID string, from time.Time) (int, error) {
	list, err := s.ListReservations(ctx, userID, from)
	return len(list), err
}

// ListReservations returns the user's reservations starting at or after
// from, earliest first.
func (s *Store) ListReservations(_ context.Context, userID string, from time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Reservation
	for date, day := range s.days {
		dayTime, err := model.ParseDate(date, s.loc)
		if err != nil {
			continue
		}
		for _, slot := range day.Slots {
			if slot.Status != model.StatusReserved || slot.OwnerID != userID {
				continue
			}
			start := model.SlotStart(dayTime, slot.Index)
			if start.Before(from) {
				continue
			}
			out = append(out, model.Reservation{
				Date:     date,
				Index:    slot.Index,
				Time:     slot.Time(),
				OwnerID:  slot.OwnerID,
				Service:  slot.Service,
				StartsAt: start,
				BookedAt: slot.BookedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// IncrementStrike implements policy.StrikeStore.
func (s *Store) IncrementStrike(_ context.Context, userID string, threshold int, now time.Time) (model.StrikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.policy[userID]
	st.UserID = userID
	if st.StrikeCount < threshold {
		st.StrikeCount++
	}
	bannedNow := false
	if st.StrikeCount >= threshold && !st.Banned {
		st.Banned = true
		st.BannedAt = now
		bannedNow = true
	}
	st.UpdatedAt = now
	s.policy[userID] = st

	return model.StrikeResult{State: st, BannedNow: bannedNow}, nil
}

// GetPolicyState implements policy.StrikeStore.
func (s *Store) GetPolicyState(_ context.Context, userID string) (model.UserPolicyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.policy[userID]
	if !ok {
		return model.UserPolicyState{UserID: userID}, nil
	}
	return st, nil
}

// ResetPolicyState implements policy.StrikeStore.
func (s *Store) ResetPolicyState(_ context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.UserPolicyState{UserID: userID, UpdatedAt: now}
	s.policy[userID] = st
	return st, nil
}

// SetBanned implements policy.StrikeStore.
func (s *Store) SetBanned(_ context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.policy[userID]
	st.UserID = userID
	if !st.Banned {
		st.Banned = true
		st.BannedAt = now
	}
	st.UpdatedAt = now
	s.policy[userID] = st
	return st, nil
}

// AppendAudit implements audit.Store.
func (s *Store) AppendAudit(_ context.Context, e model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, e)
	count(&s.summary, e, 1)
	return nil
}

// QueryAudit implements audit.Store.
func (s *Store) QueryAudit(_ context.Context, f model.AuditFilter, offset, limit int) ([]model.AuditLogEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.AuditLogEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			matched = append(matched, s.audit[i])
		}
	}
	// Appended order is already close to newest-first; the stable sort only
	// fixes entries written out of timestamp order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []model.AuditLogEntry{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]model.AuditLogEntry(nil), matched[offset:end]...), total, nil
}

// SummarizeAudit implements audit.Store.
func (s *Store) SummarizeAudit(context.Context) (model.AuditSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, nil
}

// PurgeAudit implements audit.Store.
func (s *Store) PurgeAudit(_ context.Context, f model.AuditFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	var deleted int64
	for _, e := range s.audit {
		if f.Matches(e) {
			deleted++
			count(&s.summary, e, -1)
			continue
		}
		kept = append(kept, e)
	}
	s.audit = kept
	return deleted, nil
}

func count(sum *model.AuditSummary, e model.AuditLogEntry, delta int64) {
	important := e.Importance == model.ImportanceImportant || e.Importance == model.ImportanceCritical
	sum.TotalLogs += delta
	if important {
		sum.ImportantLogs += delta
	}
	switch e.Action {
	case model.ActionReservation:
		sum.Reservations += delta
	case model.ActionCancellation:
		sum.Cancellations += delta
		if important {
			sum.ImportantCancellations += delta
		}
	}
}
