package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielSantin/site-barbearia-sub000/internal/model"
)

// ReservationCounter counts a user's reservations starting at or after from.
type ReservationCounter interface {
	CountActiveReservations(ctx context.Context, userID string, from time.Time) (int, error)
}

// BookingLimiter caps active future reservations per user.
//
// The count is read outside the reservation write, so two concurrent
// requests from one user can each pass and exceed the cap by one.
type BookingLimiter struct {
	counter ReservationCounter
	limit   int
}

// NewBookingLimiter creates a limiter allowing limit active reservations.
func NewBookingLimiter(counter ReservationCounter, limit int) *BookingLimiter {
	if limit <= 0 {
		limit = 2
	}
	return &BookingLimiter{counter: counter, limit: limit}
}

// Max is the configured cap.
func (l *BookingLimiter) Max() int { return l.limit }

// Active returns the user's reservations that have not started yet.
func (l *BookingLimiter) Active(ctx context.Context, userID string, now time.Time) (int, error) {
	n, err := l.counter.CountActiveReservations(ctx, userID, now)
	if err != nil {
		return 0, model.Persistence(err)
	}
	return n, nil
}

// Check fails with ErrBookingLimitExceeded when the user is at the cap.
func (l *BookingLimiter) Check(ctx context.Context, userID string, now time.Time) error {
	n, err := l.Active(ctx, userID, now)
	if err != nil {
		return err
	}
	if n >= l.limit {
		return fmt.Errorf("%w: %d of %d active", model.ErrBookingLimitExceeded, n, l.limit)
	}
	return nil
}
