package common

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Sleep waits for d or until ctx is cancelled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff computes exponential backoff durations with jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoff creates a backoff policy with the given base delay,
// doubling per attempt up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: 2.0,
	}
}

// Duration returns the delay for the given zero-based attempt with ±25% jitter.
func (b *Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if b.Max > 0 && backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}

	// Add jitter (±25%)
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(b.Initial)
	}

	return time.Duration(backoff)
}
