package middleware

import (
	"testing"
)

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	limiter := rl.getLimiter("1.2.3.4")

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("attempt %d should have been allowed within burst", i+1)
		}
	}
	if limiter.Allow() {
		t.Fatal("attempt beyond burst should have been rejected")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	a := rl.getLimiter("a")
	b := rl.getLimiter("b")

	if !a.Allow() {
		t.Fatal("first request for key a should be allowed")
	}
	if !b.Allow() {
		t.Fatal("key b must have its own independent bucket")
	}
	if a.Allow() {
		t.Fatal("key a should be exhausted after consuming its burst")
	}
}
