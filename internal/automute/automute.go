// Package automute turns face-presence observations into microphone mute
// decisions: presence unmutes immediately, sustained absence mutes after a
// grace period. The detection itself happens elsewhere; this is only the
// debounced decision logic.
package automute

import (
	"sync"
	"time"

	"github.com/pairmeet/pairmeet/internal/ratelimit"
)

// DefaultGrace is how long a face must be absent before muting.
const DefaultGrace = 3 * time.Second

// Controller tracks face presence over time. Safe for concurrent use.
type Controller struct {
	clock ratelimit.Clock
	grace time.Duration

	mu          sync.Mutex
	enabled     bool
	muted       bool
	absentSince time.Time // zero while a face is present
	onChange    func(muted bool)
}

// New builds a Controller. onChange fires on every mute flip, with the lock
// released; it may be nil. A non-positive grace falls back to DefaultGrace.
func New(clock ratelimit.Clock, grace time.Duration, onChange func(muted bool)) *Controller {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Controller{
		clock:    clock,
		grace:    grace,
		enabled:  true,
		onChange: onChange,
	}
}

// SetEnabled toggles automatic decisions. Disabling freezes the current mute
// state so manual control takes over; re-enabling restarts absence tracking
// from scratch.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	c.absentSince = time.Time{}
}

// Observe ingests one detection result. It returns true when the mute state
// flipped as a consequence.
func (c *Controller) Observe(facePresent bool) bool {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return false
	}

	now := c.clock.Now()
	flipped := false
	if facePresent {
		c.absentSince = time.Time{}
		if c.muted {
			c.muted = false
			flipped = true
		}
	} else {
		switch {
		case c.absentSince.IsZero():
			c.absentSince = now
		case !c.muted && now.Sub(c.absentSince) >= c.grace:
			c.muted = true
			flipped = true
		}
	}
	onChange, muted := c.onChange, c.muted
	c.mu.Unlock()

	if flipped && onChange != nil {
		onChange(muted)
	}
	return flipped
}

// Muted reports the current decision.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}
