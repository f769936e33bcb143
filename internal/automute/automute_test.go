package automute

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMutesAfterSustainedAbsence(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := New(clk, 3*time.Second, nil)

	if c.Observe(false) {
		t.Fatalf("flipped on first absence observation")
	}
	clk.Advance(2 * time.Second)
	if c.Observe(false) {
		t.Fatalf("flipped before grace elapsed")
	}
	clk.Advance(time.Second)
	if !c.Observe(false) {
		t.Fatalf("did not mute after grace elapsed")
	}
	if !c.Muted() {
		t.Fatalf("not muted")
	}

	// Staying absent keeps it muted without further flips.
	clk.Advance(10 * time.Second)
	if c.Observe(false) {
		t.Fatalf("flipped while already muted")
	}
}

func TestPresenceUnmutesImmediately(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	var changes []bool
	c := New(clk, 3*time.Second, func(muted bool) { changes = append(changes, muted) })

	c.Observe(false)
	clk.Advance(3 * time.Second)
	c.Observe(false)
	if !c.Muted() {
		t.Fatalf("not muted after grace")
	}

	if !c.Observe(true) {
		t.Fatalf("presence did not unmute")
	}
	if c.Muted() {
		t.Fatalf("still muted after presence")
	}
	if len(changes) != 2 || changes[0] != true || changes[1] != false {
		t.Fatalf("changes=%v, want [true false]", changes)
	}
}

func TestBriefAbsenceDoesNotMute(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := New(clk, 3*time.Second, nil)

	c.Observe(false)
	clk.Advance(2 * time.Second)
	c.Observe(true) // face came back, timer resets
	clk.Advance(2 * time.Second)
	c.Observe(false)
	clk.Advance(2 * time.Second)
	if c.Observe(false) {
		t.Fatalf("muted although no single absence reached the grace period")
	}
	if c.Muted() {
		t.Fatalf("muted")
	}
}

func TestDisabledControllerMakesNoDecisions(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := New(clk, 3*time.Second, nil)

	c.SetEnabled(false)
	c.Observe(false)
	clk.Advance(time.Minute)
	if c.Observe(false) || c.Muted() {
		t.Fatalf("disabled controller muted")
	}

	// Re-enabling starts absence tracking fresh.
	c.SetEnabled(true)
	c.Observe(false)
	clk.Advance(2 * time.Second)
	if c.Observe(false) {
		t.Fatalf("stale absence counted after re-enable")
	}
	clk.Advance(time.Second)
	if !c.Observe(false) {
		t.Fatalf("did not mute after full grace post re-enable")
	}
}
