package httpmiddleware

import "testing"

func TestLimiterExhaustsBurst(t *testing.T) {
	l := NewIPRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request beyond burst allowed")
	}
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	l := NewIPRateLimiter(1)
	if !l.allow("10.0.0.1") {
		t.Fatal("first client denied")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("second client denied")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("first client not limited")
	}
}

func TestLimiterDefaultsWhenUnconfigured(t *testing.T) {
	l := NewIPRateLimiter(0)
	if !l.allow("10.0.0.1") {
		t.Fatal("default limiter denied first request")
	}
}
