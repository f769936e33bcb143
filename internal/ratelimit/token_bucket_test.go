package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenStarved(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	// A joining client may legitimately burst (join + offer + candidates).
	for i := 0; i < 5; i++ {
		if !b.Allow(1) {
			t.Fatalf("frame %d of the initial burst denied", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("frame beyond capacity allowed")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/sec
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
	if b.Allow(1) {
		t.Fatalf("only one token should have refilled")
	}
}

func TestTokenBucket_SteadyRateUnderLimitAlwaysAllowed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 10)

	// Trickle ICE at half the configured rate: never denied.
	for i := 0; i < 50; i++ {
		if !b.Allow(1) {
			t.Fatalf("frame %d denied at half rate", i)
		}
		clk.Advance(200 * time.Millisecond)
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	// A long-idle connection does not bank a burst allowance.
	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Advance(-30 * time.Second)
	if b.Allow(1) {
		t.Fatalf("backwards clock must not refill")
	}

	// Refill resumes from the moved reference point.
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill after clock recovers")
	}
}

func TestTokenBucket_ZeroCapacityDeniesEverything(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 0, 5)

	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket allowed a frame")
	}
	clk.Advance(time.Hour)
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket refilled")
	}
	if !b.Allow(0) {
		t.Fatalf("zero-cost requests always succeed")
	}
}
