// Package reservation orchestrates client reservations and cancellations.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Store lists a user's reservations.
type Store interface {
	ListReservations(ctx context.Context, userID string, from time.Time) ([]model.Reservation, error)
}

// RetryConfig drives combo compensation retries.
type RetryConfig struct {
	MaxAttempts int
	// Delays[i] is the wait before attempt i+2; the last value repeats.
	Delays []time.Duration
}

// DefaultRetryConfig retries the compensating release three times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delays:      []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, time.Second},
	}
}

func (r RetryConfig) delay(attempt int) time.Duration {
	if len(r.Delays) == 0 {
		return 0
	}
	if attempt-1 < len(r.Delays) {
		return r.Delays[attempt-1]
	}
	return r.Delays[len(r.Delays)-1]
}

// Config holds the client-facing booking rules.
type Config struct {
	// MinLead is the shortest allowed gap between now and a slot start.
	MinLead time.Duration
	// MaxAdvanceMonths bounds how far ahead a slot can be booked.
	MaxAdvanceMonths int
	// Services lists the labels accepted by Reserve.
	Services []string
	// ComboFirst and ComboSecond label the two halves of a combo booking.
	ComboFirst  string
	ComboSecond string
	Rollback    RetryConfig
}

// DefaultConfig returns the shop's standard rules.
func DefaultConfig() Config {
	return Config{
		MinLead:          30 * time.Minute,
		MaxAdvanceMonths: 3,
		Services:         []string{"Cabelo", "Barba"},
		ComboFirst:       "Cabelo",
		ComboSecond:      "Barba",
		Rollback:         DefaultRetryConfig(),
	}
}

// Coordinator is the client entry point to the slot inventory.
type Coordinator struct {
	inventory *slots.Inventory
	limiter   *policy.BookingLimiter
	engine    *policy.Engine
	fees      policy.FeeGate
	audit     AuditSink
	store     Store
	cfg       Config
	logger    zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator wires a coordinator. A nil fee gate trusts the client.
func NewCoordinator(
	inventory *slots.Inventory,
	limiter *policy.BookingLimiter,
	engine *policy.Engine,
	fees policy.FeeGate,
	audit AuditSink,
	store Store,
	cfg Config,
	logger zerolog.Logger,
) *Coordinator {
	def := DefaultConfig()
	if cfg.MinLead <= 0 {
		cfg.MinLead = def.MinLead
	}
	if cfg.MaxAdvanceMonths <= 0 {
		cfg.MaxAdvanceMonths = def.MaxAdvanceMonths
	}
	if cfg.ComboFirst == "" {
		cfg.ComboFirst = def.ComboFirst
	}
	if cfg.ComboSecond == "" {
		cfg.ComboSecond = def.ComboSecond
	}
	if len(cfg.Services) == 0 {
		cfg.Services = def.Services
	}
	if cfg.Rollback.MaxAttempts <= 0 {
		cfg.Rollback = def.Rollback
	}
	if fees == nil {
		fees = policy.TrustClientFee{}
	}
	return &Coordinator{
		inventory: inventory,
		limiter:   limiter,
		engine:    engine,
		fees:      fees,
		audit:     audit,
		store:     store,
		cfg:       cfg,
		logger:    logger.With().Str("component", "reservation").Logger(),
		sleep:     sleepContext,
	}
}

// Reserve books slot index of date for the actor.
func (c *Coordinator) Reserve(ctx context.Context, actor model.Actor, date string, index int, service string) (model.Reservation, error) {
	if !c.validService(service) {
		metrics.IncReservation(model.ErrInvalidService.Code)
		return model.Reservation{}, fmt.Errorf("%w: %q", model.ErrInvalidService, service)
	}
	res, err := c.reserve(ctx, actor, date, index, service)
	recordReservation(err)
	return res, err
}

func (c *Coordinator) reserve(ctx context.Context, actor model.Actor, date string, index int, service string) (model.Reservation, error) {
	if !model.ValidIndex(index) {
		return model.Reservation{}, fmt.Errorf("%w: %d", model.ErrOutOfRange, index)
	}
	if err := c.checkNotBanned(ctx, actor); err != nil {
		return model.Reservation{}, err
	}

	day, err := c.inventory.GetOrCreateDay(ctx, date)
	if err != nil {
		return model.Reservation{}, err
	}
	slot, err := day.Slot(index)
	if err != nil {
		return model.Reservation{}, err
	}
	start, err := c.inventory.SlotStart(date, index)
	if err != nil {
		return model.Reservation{}, err
	}
	now := c.inventory.Now()

	if !slot.Enabled {
		return model.Reservation{}, fmt.Errorf("%w: %s %s is disabled", model.ErrSlotUnavailable, date, slot.Time())
	}
	if start.Before(now.Add(c.cfg.MinLead)) {
		return model.Reservation{}, fmt.Errorf("%w: %s %s starts in less than %s",
			model.ErrLeadTimeTooShort, date, slot.Time(), c.cfg.MinLead)
	}
	if start.After(now.AddDate(0, c.cfg.MaxAdvanceMonths, 0)) {
		return model.Reservation{}, fmt.Errorf("%w: %s is more than %d months ahead",
			model.ErrBookingWindowExceeded, date, c.cfg.MaxAdvanceMonths)
	}
	if slot.Status != model.StatusFree {
		return model.Reservation{}, fmt.Errorf("%w: %s %s is %s", model.ErrSlotUnavailable, date, slot.Time(), slot.Status)
	}
	if err := c.limiter.Check(ctx, actor.ID, now); err != nil {
		return model.Reservation{}, err
	}

	won, err := c.inventory.Transition(ctx, model.SlotUpdate{
		Date:           date,
		Index:          index,
		ExpectStatus:   model.StatusFree,
		RequireEnabled: true,
		Next: model.SlotState{
			Status:   model.StatusReserved,
			OwnerID:  actor.ID,
			Service:  service,
			BookedAt: now,
		},
	})
	if err != nil {
		return model.Reservation{}, err
	}
	if !won {
		return model.Reservation{}, fmt.Errorf("%w: %s %s was taken concurrently", model.ErrSlotUnavailable, date, slot.Time())
	}

	c.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionReservation,
		Importance: model.ImportanceNormal,
		Date:       date,
		Time:       slot.Time(),
		Service:    service,
		Detail:     fmt.Sprintf("reserved %s on %s at %s", service, date, slot.Time()),
	})

	c.logger.Info().
		Str("user_id", actor.ID).
		Str("date", date).
		Int("index", index).
		Str("service", service).
		Msg("slot reserved")

	return model.Reservation{
		Date:     date,
		Index:    index,
		Time:     slot.Time(),
		OwnerID:  actor.ID,
		Service:  service,
		StartsAt: start,
		BookedAt: now,
	}, nil
}

// ReserveCombo books two consecutive slots as the combo service. If the
// second claim fails the first is released again and the second failure is
// returned. If the release itself cannot be completed the error is
// ErrRollbackFailed.
func (c *Coordinator) ReserveCombo(ctx context.Context, actor model.Actor, date string, startIndex int) (model.Reservation, model.Reservation, error) {
	if !model.ValidIndex(startIndex) || !model.ValidIndex(startIndex+1) {
		err := fmt.Errorf("%w: combo needs %d and %d", model.ErrOutOfRange, startIndex, startIndex+1)
		recordReservation(err)
		return model.Reservation{}, model.Reservation{}, err
	}
	if err := c.precheckCombo(ctx, date, startIndex); err != nil {
		recordReservation(err)
		return model.Reservation{}, model.Reservation{}, err
	}

	first, err := c.reserve(ctx, actor, date, startIndex, c.cfg.ComboFirst)
	recordReservation(err)
	if err != nil {
		return model.Reservation{}, model.Reservation{}, err
	}

	second, err := c.reserve(ctx, actor, date, startIndex+1, c.cfg.ComboSecond)
	recordReservation(err)
	if err == nil {
		return first, second, nil
	}

	// The request may already be cancelled; the release must still run.
	if rbErr := c.compensate(context.WithoutCancel(ctx), actor, first, err); rbErr != nil {
		return model.Reservation{}, model.Reservation{}, rbErr
	}
	return model.Reservation{}, model.Reservation{}, err
}

func (c *Coordinator) precheckCombo(ctx context.Context, date string, startIndex int) error {
	day, err := c.inventory.GetOrCreateDay(ctx, date)
	if err != nil {
		return err
	}
	now := c.inventory.Now()

	var prev time.Time
	for i := startIndex; i <= startIndex+1; i++ {
		slot, err := day.Slot(i)
		if err != nil {
			return err
		}
		start, err := c.inventory.SlotStart(date, i)
		if err != nil {
			return err
		}
		switch {
		case !slot.Enabled:
			return fmt.Errorf("%w: %s %s is disabled", model.ErrSlotUnavailable, date, slot.Time())
		case slot.Status != model.StatusFree:
			return fmt.Errorf("%w: %s %s is %s", model.ErrSlotUnavailable, date, slot.Time(), slot.Status)
		case start.Before(now):
			return fmt.Errorf("%w: %s %s already started", model.ErrSlotUnavailable, date, slot.Time())
		case !prev.IsZero() && start.Sub(prev) > model.SlotDuration:
			return fmt.Errorf("%w: combo slots are not consecutive", model.ErrSlotUnavailable)
		}
		prev = start
	}
	return nil
}

// compensate releases a slot claimed by the first half of a combo,
// retrying per the rollback policy.
func (c *Coordinator) compensate(ctx context.Context, actor model.Actor, first model.Reservation, cause error) error {
	var lastErr error
	attempts := c.cfg.Rollback.MaxAttempts

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.Rollback.delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		released, err := c.release(ctx, actor.ID, first)
		if err == nil && released {
			metrics.IncComboRollback("compensated")
			c.audit.Append(model.AuditLogEntry{
				UserID:     actor.ID,
				UserName:   actor.Name,
				Action:     model.ActionRollback,
				Importance: model.ImportanceNormal,
				Date:       first.Date,
				Time:       first.Time,
				Service:    first.Service,
				Detail:     fmt.Sprintf("combo released %s at %s after second slot failed: %v", first.Date, first.Time, cause),
			})
			c.logger.Warn().
				Str("user_id", actor.ID).
				Str("date", first.Date).
				Int("index", first.Index).
				Int("attempt", attempt).
				AnErr("cause", cause).
				Msg("combo first slot rolled back")
			return nil
		}
		if err == nil {
			err = model.ErrConcurrentModification
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Str("date", first.Date).
			Int("index", first.Index).
			Int("attempt", attempt).
			Msg("combo rollback attempt failed")
	}

	metrics.IncComboRollback("failed")
	c.logger.Error().Err(lastErr).
		Str("user_id", actor.ID).
		Str("date", first.Date).
		Int("index", first.Index).
		AnErr("cause", cause).
		Msg("combo rollback failed; manual reconciliation required")
	c.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionRollback,
		Importance: model.ImportanceCritical,
		Date:       first.Date,
		Time:       first.Time,
		Service:    first.Service,
		Detail: fmt.Sprintf("combo rollback failed after %d attempts; slot %s %s still held by %s; cause: %v; last error: %v",
			attempts, first.Date, first.Time, actor.ID, cause, lastErr),
	})
	return fmt.Errorf("%w: slot %s %s: %w (rollback: %v)", model.ErrRollbackFailed, first.Date, first.Time, cause, lastErr)
}

// release frees a slot still reserved by owner. It reports true when the
// slot is no longer held by owner, whoever freed it.
func (c *Coordinator) release(ctx context.Context, owner string, r model.Reservation) (bool, error) {
	won, err := c.inventory.Transition(ctx, model.SlotUpdate{
		Date:         r.Date,
		Index:        r.Index,
		ExpectStatus: model.StatusReserved,
		ExpectOwner:  owner,
		Next:         model.SlotState{Status: model.StatusFree},
	})
	if err != nil || won {
		return won, err
	}

	day, err := c.inventory.GetDay(ctx, r.Date)
	if err != nil {
		return false, err
	}
	slot, err := day.Slot(r.Index)
	if err != nil {
		return false, err
	}
	return slot.Status != model.StatusReserved || slot.OwnerID != owner, nil
}

// CancellationOutcome reports what a cancellation did.
type CancellationOutcome struct {
	Date          string          `json:"date"`
	Index         int             `json:"index"`
	Time          string          `json:"time"`
	LeadTime      policy.LeadTime `json:"leadTime"`
	Late          bool            `json:"late"`
	FeeRequired   bool            `json:"feeRequired"`
	StrikeApplied bool            `json:"strikeApplied"`
	StrikeCount   int             `json:"strikeCount"`
	Banned        bool            `json:"banned"`
}

// Cancel releases the actor's reservation and applies the late-cancellation
// policy. acceptFee is the client's choice to pay instead of taking a strike.
func (c *Coordinator) Cancel(ctx context.Context, actor model.Actor, date string, index int, acceptFee bool) (CancellationOutcome, error) {
	out, err := c.cancel(ctx, actor, date, index, acceptFee)
	if err != nil {
		if e, ok := model.AsError(err); ok {
			metrics.IncCancellation("rejected_" + e.Code)
		}
		return out, err
	}
	return out, nil
}

func (c *Coordinator) cancel(ctx context.Context, actor model.Actor, date string, index int, acceptFee bool) (CancellationOutcome, error) {
	if !model.ValidIndex(index) {
		return CancellationOutcome{}, fmt.Errorf("%w: %d", model.ErrOutOfRange, index)
	}
	day, err := c.inventory.GetDay(ctx, date)
	if err != nil {
		return CancellationOutcome{}, err
	}
	slot, err := day.Slot(index)
	if err != nil {
		return CancellationOutcome{}, err
	}
	if slot.Status != model.StatusReserved {
		return CancellationOutcome{}, fmt.Errorf("%w: %s %s is %s", model.ErrNotReserved, date, slot.Time(), slot.Status)
	}
	if slot.OwnerID != actor.ID {
		return CancellationOutcome{}, fmt.Errorf("%w: %s %s", model.ErrNotOwner, date, slot.Time())
	}

	start, err := c.inventory.SlotStart(date, index)
	if err != nil {
		return CancellationOutcome{}, err
	}
	now := c.inventory.Now()
	lead := c.engine.Classify(start, now)
	if lead == policy.LeadPast {
		return CancellationOutcome{}, fmt.Errorf("%w: %s %s", model.ErrSlotInPast, date, slot.Time())
	}

	decision := policy.Decide(lead.IsLate(), acceptFee)
	if decision.FeeRequired {
		err := c.fees.ConfirmFee(ctx, policy.FeeRequest{
			UserID:    actor.ID,
			Date:      date,
			Index:     index,
			SlotStart: start,
			Accepted:  acceptFee,
		})
		if err != nil {
			return CancellationOutcome{}, err
		}
	}

	won, err := c.inventory.Transition(ctx, model.SlotUpdate{
		Date:         date,
		Index:        index,
		ExpectStatus: model.StatusReserved,
		ExpectOwner:  actor.ID,
		Next:         model.SlotState{Status: model.StatusFree, CanceledAt: now},
	})
	if err != nil {
		return CancellationOutcome{}, err
	}
	if !won {
		return CancellationOutcome{}, fmt.Errorf("%w: %s %s", model.ErrConcurrentModification, date, slot.Time())
	}

	out := CancellationOutcome{
		Date:        date,
		Index:       index,
		Time:        slot.Time(),
		LeadTime:    lead,
		Late:        lead.IsLate(),
		FeeRequired: decision.FeeRequired,
	}

	var strikeErr error
	if decision.StrikeDelta > 0 {
		res, err := c.engine.ApplyStrike(ctx, actor.ID, now)
		if err != nil {
			strikeErr = err
		} else {
			out.StrikeApplied = true
			out.StrikeCount = res.State.StrikeCount
			out.Banned = res.State.Banned
			metrics.IncStrike()
			if res.BannedNow {
				metrics.IncBan()
				c.audit.Append(model.AuditLogEntry{
					UserID:     actor.ID,
					UserName:   actor.Name,
					Action:     model.ActionUserBanned,
					Importance: model.ImportanceImportant,
					Detail:     fmt.Sprintf("banned automatically after %d strikes", res.State.StrikeCount),
				})
			}
		}
	}

	importance := model.ImportanceNormal
	if out.Late {
		importance = model.ImportanceImportant
	}
	c.audit.Append(model.AuditLogEntry{
		UserID:     actor.ID,
		UserName:   actor.Name,
		Action:     model.ActionCancellation,
		Importance: importance,
		Date:       date,
		Time:       slot.Time(),
		Service:    slot.Service,
		Detail:     c.cancelDetail(start.Sub(now), out, strikeErr),
	})

	path := "normal"
	switch {
	case out.FeeRequired:
		path = "fee"
	case decision.StrikeDelta > 0:
		path = "strike"
	}
	metrics.IncCancellation(path)

	c.logger.Info().
		Str("user_id", actor.ID).
		Str("date", date).
		Int("index", index).
		Str("lead_time", string(lead)).
		Str("path", path).
		Msg("reservation cancelled")

	if strikeErr != nil {
		return out, strikeErr
	}
	return out, nil
}

func (c *Coordinator) cancelDetail(lead time.Duration, out CancellationOutcome, strikeErr error) string {
	ahead := lead.Round(time.Minute)
	switch {
	case out.FeeRequired:
		return fmt.Sprintf("late cancellation %s before start; client accepted the fee (not verified)", ahead)
	case out.Late && strikeErr != nil:
		return fmt.Sprintf("late cancellation %s before start; strike could not be recorded: %v", ahead, strikeErr)
	case out.Late:
		detail := fmt.Sprintf("late cancellation %s before start; strike applied (%d/%d)", ahead, out.StrikeCount, c.engine.MaxStrikes())
		if out.Banned {
			detail += "; user is banned"
		}
		return detail
	default:
		return fmt.Sprintf("cancelled %s before start", ahead)
	}
}

// UserReservations is a user's upcoming bookings and policy counters.
type UserReservations struct {
	Reservations []model.Reservation   `json:"reservations"`
	Policy       model.UserPolicyState `json:"policy"`
	Limit        int                   `json:"limit"`
}

// ListUserReservations returns the user's reservations that have not started.
func (c *Coordinator) ListUserReservations(ctx context.Context, userID string) (UserReservations, error) {
	list, err := c.store.ListReservations(ctx, userID, c.inventory.Now())
	if err != nil {
		return UserReservations{}, model.Persistence(err)
	}
	if list == nil {
		list = []model.Reservation{}
	}
	st, err := c.engine.State(ctx, userID)
	if err != nil {
		return UserReservations{}, err
	}
	return UserReservations{Reservations: list, Policy: st, Limit: c.limiter.Max()}, nil
}

func (c *Coordinator) checkNotBanned(ctx context.Context, actor model.Actor) error {
	if actor.Banned {
		return fmt.Errorf("%w: %s", model.ErrUserBanned, actor.ID)
	}
	st, err := c.engine.State(ctx, actor.ID)
	if err != nil {
		return err
	}
	if st.Banned {
		return fmt.Errorf("%w: %s", model.ErrUserBanned, actor.ID)
	}
	return nil
}

func (c *Coordinator) validService(service string) bool {
	for _, s := range c.cfg.Services {
		if s == service {
			return true
		}
	}
	return false
}

func recordReservation(err error) {
	if err == nil {
		metrics.IncReservation("ok")
		return
	}
	if e, ok := model.AsError(err); ok {
		metrics.IncReservation(e.Code)
		return
	}
	if !errors.Is(err, context.Canceled) {
		metrics.IncReservation("error")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
