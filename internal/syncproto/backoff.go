package syncproto

import "time"

// Backoff computes exponential retry delays base * 2^attempt, capped at max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the backoff for the given zero-based retry attempt.
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
