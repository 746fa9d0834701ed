package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff describes the delay before each retry attempt. The zero value
// waits nothing; Fixed and Exponential build the common shapes.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// MaxAttempts bounds the number of retries; zero retries forever.
	MaxAttempts int
}

// Fixed waits the same delay before every attempt.
func Fixed(delay time.Duration, maxAttempts int) Backoff {
	return Backoff{Initial: delay, Max: delay, Multiplier: 1, MaxAttempts: maxAttempts}
}

// Exponential doubles the delay after each attempt up to max.
func Exponential(initial, max time.Duration, maxAttempts int) Backoff {
	return Backoff{Initial: initial, Max: max, Multiplier: 2, Jitter: 0.2, MaxAttempts: maxAttempts}
}

// Delay returns the wait before attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt exceeds the configured bound.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}

// Wait sleeps for the attempt's delay or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	d := b.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
