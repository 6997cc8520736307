// Package ratelimit throttles client requests per key.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying a
	// rejected request.
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Nop admits every request.
type Nop struct{}

func (Nop) Allow(context.Context, string) (Decision, error) { return Decision{Allowed: true}, nil }
