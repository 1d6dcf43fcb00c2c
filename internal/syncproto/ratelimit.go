package syncproto

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"phicore/internal/pkgerr"
)

// RateLimitExceeded is returned when a user's token bucket is exhausted.
// RetryAfter is always positive.
type RateLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return "rate limit exceeded"
}

// Limiter enforces a per-user token bucket, per spec.md §4.9.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	capacity int
	refill   rate.Limit
}

// NewLimiter builds a Limiter with burst capacity and a refill rate of
// refillPerSecond tokens/second, per user.
func NewLimiter(capacity int, refillPerSecond float64) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		capacity: capacity,
		refill:   rate.Limit(refillPerSecond),
	}
}

func (l *Limiter) bucketFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.limiters[userID]
	if !ok {
		b = rate.NewLimiter(l.refill, l.capacity)
		l.limiters[userID] = b
	}
	return b
}

// Allow consumes one token for userID, returning a *RateLimitExceeded
// (wrapped as a pkgerr.Error of kind RateLimitExceeded) if none remain.
func (l *Limiter) Allow(userID string) error {
	bucket := l.bucketFor(userID)
	res := bucket.Reserve()
	if !res.OK() {
		return pkgerr.Wrap(pkgerr.RateLimitExceeded, "rate limiter misconfigured", &RateLimitExceeded{RetryAfter: time.Second})
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return pkgerr.Wrap(pkgerr.RateLimitExceeded, "rate limit exceeded for user "+userID, &RateLimitExceeded{RetryAfter: delay})
	}
	return nil
}
