package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Components that are constructed without an explicit clock fall back to it.
var clock = clockwork.NewRealClock()

// SetClock swaps the default time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Clock returns c when non-nil, otherwise the package default.
func Clock(c clockwork.Clock) clockwork.Clock {
	if c != nil {
		return c
	}
	return clock
}
