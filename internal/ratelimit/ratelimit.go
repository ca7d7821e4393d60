// Package ratelimit counts requests per client in fixed windows.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// Count is the number of requests seen in the current window, including
	// this one.
	Count int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Remaining returns how many more requests fit in the window.
func (d Decision) Remaining(limit int) int {
	if rest := limit - d.Count; rest > 0 {
		return rest
	}
	return 0
}

// Limiter admits or rejects requests for a key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
	Close() error
}
