// Package admin implements administrative overrides of the slot inventory
// and user policy state. None of these operations consult client policy.
package admin

import (
	"context"
	"fmt"

	"github.com/DanielSantin/site-barbearia-sub000/internal/metrics"
	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/DanielSantin/site-barbearia-sub000/internal/policy"
	"github.com/DanielSantin/site-barbearia-sub000/internal/slots"
	"github.com/rs/zerolog"
)

// AuditSink receives audit entries. Append must not block or fail.
type AuditSink interface {
	Append(e model.AuditLogEntry)
}

// Service is the admin entry point.
type Service struct {
	inventory *slots.Inventory
	engine    *policy.Engine
	audit     AuditSink
	logger    zerolog.Logger
}

// NewService creates an admin service.
func NewService(inventory *slots.Inventory, engine *policy.Engine, audit AuditSink, logger zerolog.Logger) *Service {
	return &Service{
		inventory: inventory,
		engine:    engine,
		audit:     audit,
		logger:    logger.With().Str("component", "admin").Logger(),
	}
}

// SlotOutcome is the per-slot result of a bulk block.
type SlotOutcome string

const (
	OutcomeBlocked        SlotOutcome = "blocked"
	OutcomeSkippedReserve SlotOutcome = "skipped_reserved"
	OutcomeSkippedBlocked SlotOutcome = "skipped_blocked"
	OutcomeSkippedPast    SlotOutcome = "skipped_past"
	OutcomeFailed         SlotOutcome = "failed"
)

// SlotResult reports what BlockEntireDay did to one slot.
type SlotResult struct {
	Index   int         `json:"index"`
	Time    string      `json:"time"`
	Outcome SlotOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

// DayBlockReport summarizes BlockEntireDay.
type DayBlockReport struct {
	Date    string       `json:"date"`
	Blocked int          `json:"blocked"`
	Failed  int          `json:"failed"`
	Slots   []SlotResult `json:"slots"`
}

// BlockSlot holds a free slot for the shop. Re-blocking a blocked slot
// replaces its reason.
func (s *Service) BlockSlot(ctx context.Context, actor model.Actor, date string, index int, reason string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	slot, err := s.mutableSlot(ctx, date, index)
	if err != nil {
		return err
	}
	if err := s.block(ctx, date, slot, reason); err != nil {
		return err
	}

	s.record(actor, model.ActionAdminBlock, date, slot.Time(), fmt.Sprintf("blocked %s %s: %s", date, slot.Time(), reasonOrDash(reason)))
	return nil
}

func (s *Service) block(ctx context.Context, date string, slot model.TimeSlot, reason string) error {
	switch slot.Status {
	case model.StatusReserved:
		return fmt.Errorf("%w: %s %s", model.ErrSlotReserved, date, slot.Time())
	case model.StatusFree, model.StatusBlocked:
	default:
		return fmt.Errorf("%w: %s %s is %s", model.ErrConcurrentModification, date, slot.Time(), slot.Status)
	}

	won, err := s.inventory.Transition(ctx, model.SlotUpdate{
		Date:         date,
		Index:        slot.Index,
		ExpectStatus: slot.Status,
		Next:         model.SlotState{Status: model.StatusBlocked, BlockReason: reason},
	})
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("%w: %s %s changed while blocking", model.ErrConcurrentModification, date, slot.Time())
	}
	return nil
}

// UnblockSlot releases an admin-held slot.
func (s *Service) UnblockSlot(ctx context.Context, actor model.Actor, date string, index int) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	slot, err := s.mutableSlot(ctx, date, index)
	if err != nil {
		return err
	}
	switch slot.Status {
	case model.StatusReserved:
		return fmt.Errorf("%w: %s %s", model.ErrSlotReserved, date, slot.Time())
	case model.StatusFree:
		return fmt.Errorf("%w: %s %s", model.ErrNotBlocked, date, slot.Time())
	}

	won, err := s.inventory.Transition(ctx, model.SlotUpdate{
		Date:         date,
		Index:        index,
		ExpectStatus: model.StatusBlocked,
		Next:         model.SlotState{Status: model.StatusFree},
	})
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("%w: %s %s changed while unblocking", model.ErrConcurrentModification, date, slot.Time())
	}

	s.record(actor, model.ActionAdminUnblock, date, slot.Time(), fmt.Sprintf("unblocked %s %s", date, slot.Time()))
	return nil
}

// BlockEntireDay blocks every free slot of date that has not started.
// Slots are handled independently; a failure on one does not stop the rest.
func (s *Service) BlockEntireDay(ctx context.Context, actor model.Actor, date, reason string) (DayBlockReport, error) {
	if err := requireAdmin(actor); err != nil {
		return DayBlockReport{}, err
	}
	day, err := s.inventory.GetOrCreateDay(ctx, date)
	if err != nil {
		return DayBlockReport{}, err
	}
	now := s.inventory.Now()

	report := DayBlockReport{Date: date, Slots: make([]SlotResult, 0, len(day.Slots))}
	for _, slot := range day.Slots {
		res := SlotResult{Index: slot.Index, Time: slot.Time()}
		start, err := s.inventory.SlotStart(date, slot.Index)

		switch {
		case err != nil:
			res.Outcome, res.Error = OutcomeFailed, err.Error()
		case start.Before(now):
			res.Outcome = OutcomeSkippedPast
		case slot.Status == model.StatusReserved:
			res.Outcome = OutcomeSkippedReserve
		case slot.Status == model.StatusBlocked:
			res.Outcome = OutcomeSkippedBlocked
		default:
			if err := s.block(ctx, date, slot, reason); err != nil {
				res.Outcome, res.Error = OutcomeFailed, err.Error()
			} else {
				res.Outcome = OutcomeBlocked
			}
		}

		switch res.Outcome {
		case OutcomeBlocked:
			report.Blocked++
		case OutcomeFailed:
			report.Failed++
			s.logger.Warn().
				Str("date", date).
				Int("index", slot.Index).
				Str("error", res.Error).
				Msg("bulk block skipped slot")
		}
		report.Slots = append(report.Slots, res)
	}

	s.record(actor, model.ActionAdminBlockDay, date, "",
		fmt.Sprintf("blocked %d slots on %s (%d failed): %s", report.Blocked, date, report.Failed, reasonOrDash(reason)))
	return report, nil
}

// RemoveClientReservation force-frees a reserved slot. No strike or fee
// applies to the client.
func (s *Service) RemoveClientReservation(ctx context.Context, actor model.Actor, date string, index int) (model.Reservation, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Reservation{}, err
	}
	slot, err := s.mutableSlot(ctx, date, index)
	if err != nil {
		return model.Reservation{}, err
	}
	if slot.Status != model.StatusReserved {
		return model.Reservation{}, fmt.Errorf("%w: %s %s is %s", model.ErrNotReserved, date, slot.Time(), slot.Status)
	}

	now := s.inventory.Now()
	won, err := s.inventory.Transition(ctx, model.SlotUpdate{
		Date:         date,
		Index:        index,
		ExpectStatus: model.StatusReserved,
		ExpectOwner:  slot.OwnerID,
		Next:         model.SlotState{Status: model.StatusFree, CanceledAt: now},
	})
	if err != nil {
		return model.Reservation{}, err
	}
	if !won {
		return model.Reservation{}, fmt.Errorf("%w: %s %s changed while removing", model.ErrConcurrentModification, date, slot.Time())
	}

	start, _ := s.inventory.SlotStart(date, index)
	removed := model.Reservation{
		Date:     date,
		Index:    index,
		Time:     slot.Time(),
		OwnerID:  slot.OwnerID,
		Service:  slot.Service,
		StartsAt: start,
		BookedAt: slot.BookedAt,
	}

	entry := model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionAdminRemove,
		Importance: model.ImportanceImportant,
		Date:       date,
		Time:       slot.Time(),
		Service:    slot.Service,
		Detail:     fmt.Sprintf("removed reservation of %s (%s) at %s %s", slot.OwnerID, slot.Service, date, slot.Time()),
	}
	s.audit.Append(entry)
	metrics.IncAdminAction(string(model.ActionAdminRemove))
	s.logger.Info().
		Str("admin_id", actor.ID).
		Str("owner_id", slot.OwnerID).
		Str("date", date).
		Int("index", index).
		Msg("client reservation removed")
	return removed, nil
}

// SetSlotEnabled toggles whether the slot accepts new reservations.
func (s *Service) SetSlotEnabled(ctx context.Context, actor model.Actor, date string, index int, enabled bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.inventory.SetEnabled(ctx, date, index, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	s.record(actor, model.ActionAdminSetEnabled, date, model.IndexTime(index), fmt.Sprintf("%s %s %s", state, date, model.IndexTime(index)))
	return nil
}

// OpenDay materializes an all-disabled grid, typically for a closed weekday.
func (s *Service) OpenDay(ctx context.Context, actor model.Actor, date string) (*model.DaySchedule, bool, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, false, err
	}
	day, created, err := s.inventory.OpenDay(ctx, date)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.record(actor, model.ActionAdminOpenDay, date, "", fmt.Sprintf("opened %s with every slot disabled", date))
	}
	return day, created, nil
}

// ResetUser zeroes a user's strikes and lifts any ban.
func (s *Service) ResetUser(ctx context.Context, actor model.Actor, userID string) (model.UserPolicyState, error) {
	if err := requireAdmin(actor); err != nil {
		return model.UserPolicyState{}, err
	}
	if userID == "" {
		return model.UserPolicyState{}, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}
	prev, err := s.engine.State(ctx, userID)
	if err != nil {
		return model.UserPolicyState{}, err
	}
	st, err := s.engine.Reset(ctx, userID, s.inventory.Now())
	if err != nil {
		return model.UserPolicyState{}, err
	}

	s.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionAdminResetUser,
		Importance: model.ImportanceImportant,
		Detail:     fmt.Sprintf("reset %s (was %d strikes, banned=%t)", userID, prev.StrikeCount, prev.Banned),
	})
	metrics.IncAdminAction(string(model.ActionAdminResetUser))
	return st, nil
}

// BanUser bans a user regardless of strikes.
func (s *Service) BanUser(ctx context.Context, actor model.Actor, userID string) (model.UserPolicyState, error) {
	if err := requireAdmin(actor); err != nil {
		return model.UserPolicyState{}, err
	}
	if userID == "" {
		return model.UserPolicyState{}, fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	}
	st, err := s.engine.Ban(ctx, userID, s.inventory.Now())
	if err != nil {
		return model.UserPolicyState{}, err
	}

	s.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionAdminBanUser,
		Importance: model.ImportanceImportant,
		Detail:     fmt.Sprintf("banned %s (%d strikes)", userID, st.StrikeCount),
	})
	metrics.IncAdminAction(string(model.ActionAdminBanUser))
	metrics.IncBan()
	return st, nil
}

// mutableSlot loads a slot an admin may change. Past slots are frozen.
func (s *Service) mutableSlot(ctx context.Context, date string, index int) (model.TimeSlot, error) {
	if !model.ValidIndex(index) {
		return model.TimeSlot{}, fmt.Errorf("%w: index %d", model.ErrOutOfRange, index)
	}
	day, err := s.inventory.GetOrCreateDay(ctx, date)
	if err != nil {
		return model.TimeSlot{}, err
	}
	slot, err := day.Slot(index)
	if err != nil {
		return model.TimeSlot{}, err
	}
	start, err := s.inventory.SlotStart(date, index)
	if err != nil {
		return model.TimeSlot{}, err
	}
	if start.Before(s.inventory.Now()) {
		return model.TimeSlot{}, fmt.Errorf("%w: %s %s", model.ErrSlotInPast, date, slot.Time())
	}
	return slot, nil
}

func (s *Service) record(actor model.Actor, action model.ActionType, date, clock, detail string) {
	s.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     action,
		Importance: model.ImportanceNormal,
		Date:       date,
		Time:       clock,
		Detail:     detail,
	})
	metrics.IncAdminAction(string(action))
	s.logger.Info().
		Str("admin_id", actor.ID).
		Str("action", string(action)).
		Str("date", date).
		Str("time", clock).
		Msg(detail)
}

func requireAdmin(actor model.Actor) error {
	if !actor.Admin {
		return fmt.Errorf("%w: %s", model.ErrAdminRequired, actor.ID)
	}
	return nil
}

func reasonOrDash(reason string) string {
	if reason == "" {
		return "-"
	}
	return reason
}
