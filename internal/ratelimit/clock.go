// Package ratelimit bounds per-connection signaling message rates on the
// relay. A well-behaved participant sends a handful of frames per session;
// the limiter exists to shed misbehaving or looping clients.
package ratelimit

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used in production.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
