// Package policy implements the cancellation strike-or-fee rules and the
// per-user booking limit.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
	"github.com/rs/zerolog"
)

// LeadTime classifies how far ahead of a slot start a request arrives.
type LeadTime string

const (
	LeadPast    LeadTime = "past"
	LeadTooSoon LeadTime = "too_soon"
	LeadLate    LeadTime = "late"
	LeadNormal  LeadTime = "normal"
)

// IsLate reports whether a cancellation at this lead time is penalized.
func (l LeadTime) IsLate() bool {
	return l == LeadTooSoon || l == LeadLate
}

// Windows are the lead-time thresholds.
type Windows struct {
	TooSoon time.Duration
	Late    time.Duration
}

// DefaultWindows is 30 minutes for too-soon and 60 minutes for late.
func DefaultWindows() Windows {
	return Windows{TooSoon: 30 * time.Minute, Late: 60 * time.Minute}
}

// ClassifyLeadTime places slotStart relative to now.
func ClassifyLeadTime(slotStart, now time.Time, w Windows) LeadTime {
	switch {
	case slotStart.Before(now):
		return LeadPast
	case slotStart.Before(now.Add(w.TooSoon)):
		return LeadTooSoon
	case slotStart.Before(now.Add(w.Late)):
		return LeadLate
	default:
		return LeadNormal
	}
}

// Decision is the strike-or-fee outcome of a cancellation.
type Decision struct {
	StrikeDelta int
	FeeRequired bool
}

// Decide maps lateness and the client's fee choice to an outcome.
func Decide(late, acceptFee bool) Decision {
	switch {
	case late && acceptFee:
		return Decision{FeeRequired: true}
	case late:
		return Decision{StrikeDelta: 1}
	default:
		return Decision{}
	}
}

// StrikeStore keeps UserPolicyState.
type StrikeStore interface {
	// IncrementStrike adds one strike and sets banned when the count
	// reaches threshold, as a single atomic read-modify-write.
	IncrementStrike(ctx context.Context, userID string, threshold int, now time.Time) (model.StrikeResult, error)
	// GetPolicyState returns a zero state for unknown users.
	GetPolicyState(ctx context.Context, userID string) (model.UserPolicyState, error)
	ResetPolicyState(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error)
	SetBanned(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error)
}

// Config tunes the engine.
type Config struct {
	Windows    Windows
	MaxStrikes int
}

// DefaultConfig bans at five strikes.
func DefaultConfig() Config {
	return Config{Windows: DefaultWindows(), MaxStrikes: 5}
}

// Engine applies cancellation policy against UserPolicyState.
type Engine struct {
	store  StrikeStore
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a cancellation policy engine.
func NewEngine(store StrikeStore, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.MaxStrikes <= 0 {
		cfg.MaxStrikes = 5
	}
	if cfg.Windows.TooSoon <= 0 || cfg.Windows.Late <= 0 {
		cfg.Windows = DefaultWindows()
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

// MaxStrikes is the ban threshold.
func (e *Engine) MaxStrikes() int { return e.cfg.MaxStrikes }

// Classify applies the configured windows.
func (e *Engine) Classify(slotStart, now time.Time) LeadTime {
	return ClassifyLeadTime(slotStart, now, e.cfg.Windows)
}

// ApplyStrike increments the user's strike count and bans on threshold.
func (e *Engine) ApplyStrike(ctx context.Context, userID string, now time.Time) (model.StrikeResult, error) {
	res, err := e.store.IncrementStrike(ctx, userID, e.cfg.MaxStrikes, now)
	if err != nil {
		return model.StrikeResult{}, fmt.Errorf("apply strike to %s: %w", userID, model.Persistence(err))
	}

	ev := e.logger.Info()
	if res.BannedNow {
		ev = e.logger.Warn()
	}
	ev.Str("user_id", userID).
		Int("strike_count", res.State.StrikeCount).
		Bool("banned", res.State.Banned).
		Bool("banned_now", res.BannedNow).
		Msg("strike applied")

	return res, nil
}

// State returns the user's current counters.
func (e *Engine) State(ctx context.Context, userID string) (model.UserPolicyState, error) {
	st, err := e.store.GetPolicyState(ctx, userID)
	if err != nil {
		return model.UserPolicyState{}, model.Persistence(err)
	}
	return st, nil
}

// Reset zeroes strikes and lifts the ban.
func (e *Engine) Reset(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	st, err := e.store.ResetPolicyState(ctx, userID, now)
	if err != nil {
		return model.UserPolicyState{}, model.Persistence(err)
	}
	e.logger.Info().Str("user_id", userID).Msg("policy state reset")
	return st, nil
}

// Ban bans the user without touching the strike count.
func (e *Engine) Ban(ctx context.Context, userID string, now time.Time) (model.UserPolicyState, error) {
	st, err := e.store.SetBanned(ctx, userID, now)
	if err != nil {
		return model.UserPolicyState{}, model.Persistence(err)
	}
	e.logger.Info().Str("user_id", userID).Msg("user banned by admin")
	return st, nil
}
