package broker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding gateway API calls. Bybit
// throttles per endpoint group; one limiter is shared across all of a
// gateway's trading calls.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter that starts full and refills at
// refillRate tokens per second up to capacity.
func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	return &RateLimiter{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether one call may proceed now, consuming a token
// if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.tokenInterval()):
		}
	}
}

// Tokens returns the current token count after refill.
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)

	added := int(elapsed.Seconds() * float64(rl.refillRate))
	if added <= 0 {
		return
	}

	rl.tokens += added
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

func (rl *RateLimiter) tokenInterval() time.Duration {
	if rl.refillRate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(rl.refillRate)
}
