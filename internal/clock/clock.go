// Package clock provides the time source injected into the planner, the
// dispatcher and the slot generator, so tests can pin "now" instead of
// relying on ambient time.Now.
package clock

import "time"

// Clock yields the current instant.
type Clock interface {
	Now() time.Time
}

// Real is the production clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed is a test clock frozen at a settable instant.
type Fixed struct {
	t time.Time
}

// NewFixed creates a clock pinned at t.
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (f *Fixed) Now() time.Time { return f.t }

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) { f.t = t }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.t = f.t.Add(d) }
