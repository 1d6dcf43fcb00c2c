package syncproto

import (
	"errors"
	"testing"
)

// TestLimiterImplementsScenarioS7: with capacity 3 and a near-zero refill
// rate, three successive Allow calls succeed and the fourth returns
// RateLimitExceeded with a positive retry_after.
func TestLimiterImplementsScenarioS7(t *testing.T) {
	l := NewLimiter(3, 0.001)

	for i := 0; i < 3; i++ {
		if err := l.Allow("user1"); err != nil {
			t.Fatalf("call %d: expected Allow to succeed within burst capacity, got %v", i+1, err)
		}
	}

	err := l.Allow("user1")
	if err == nil {
		t.Fatalf("expected the 4th call to exceed the rate limit")
	}
	var rle *RateLimitExceeded
	if !errors.As(err, &rle) {
		t.Fatalf("expected a RateLimitExceeded error, got %v", err)
	}
	if rle.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry_after, got %v", rle.RetryAfter)
	}
}

func TestLimiterTracksUsersIndependently(t *testing.T) {
	l := NewLimiter(1, 0.001)
	if err := l.Allow("alice"); err != nil {
		t.Fatalf("alice's first call should succeed: %v", err)
	}
	if err := l.Allow("bob"); err != nil {
		t.Fatalf("bob's first call should succeed independently of alice's bucket: %v", err)
	}
}
