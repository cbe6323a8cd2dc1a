package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles Telegram API calls. On top of a steady token
// bucket it honors server-imposed FLOOD_WAIT pauses: once Telegram asks
// for a backoff, every caller blocks until the pause expires.
type RateLimiter struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	pauseUntil time.Time
}

// NewRateLimiter builds a limiter allowing rps requests per second with
// the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// DefaultRateLimiter returns a limiter with conservative settings.
// Archiving walks every dialog of an account, so we stay well under the
// thresholds that trigger FLOOD_WAIT on long runs.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// Wait blocks until the next request may go out, sitting through any
// active flood pause first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.waitPause(ctx); err != nil {
		return err
	}
	return r.limiter.Wait(ctx)
}

func (r *RateLimiter) waitPause(ctx context.Context) error {
	r.mu.Lock()
	remaining := time.Until(r.pauseUntil)
	r.mu.Unlock()

	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetFloodWait records a FLOOD_WAIT pause of the given length.
func (r *RateLimiter) SetFloodWait(seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pauseUntil = time.Now().Add(time.Duration(seconds) * time.Second)
}
