package remote

import "time"

// Backoff computes exponential retry delays. Delays are deterministic
// (no jitter) so retry behavior is reproducible in tests.
type Backoff struct {
	Base time.Duration // delay before the first retry
	Max  time.Duration // cap applied to every delay
}

// DefaultBackoff returns the retry policy used for transient remote
// failures
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 500 * time.Millisecond,
		Max:  30 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (0-based):
// Base << attempt, capped at Max
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}

	if d > b.Max {
		return b.Max
	}
	return d
}
