package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverLimiter uses primary (Redis) and falls back to a local limiter
// while primary is failing. Recovery is retried at most once per interval.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   zerolog.Logger

	isDown        atomic.Bool
	mu            sync.Mutex
	lastCheck     time.Time
	checkInterval time.Duration
}

// NewFailoverLimiter wraps primary with fallback.
func NewFailoverLimiter(primary, fallback Limiter, logger zerolog.Logger) *FailoverLimiter {
	return &FailoverLimiter{
		primary:       primary,
		fallback:      fallback,
		logger:        logger.With().Str("component", "ratelimit").Logger(),
		checkInterval: time.Minute,
	}
}

func (f *FailoverLimiter) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) < f.checkInterval {
		return false
	}
	f.lastCheck = time.Now()
	return true
}

// Allow implements Limiter.
func (f *FailoverLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if f.usePrimary() {
		d, err := f.primary.Allow(ctx, key)
		if err == nil {
			if f.isDown.Swap(false) {
				f.logger.Info().Msg("Rate limit backend recovered")
			}
			return d, nil
		}
		if !f.isDown.Swap(true) {
			f.logger.Warn().Err(err).Msg("Rate limit backend failed, using local fallback")
		}
		f.mu.Lock()
		f.lastCheck = time.Now()
		f.mu.Unlock()
	}
	return f.fallback.Allow(ctx, key)
}
